// Package keycodec encodes (tenant, module) pairs into the composite string
// keys used by the configuration store.
//
// A key is the decimal tenant id, the separator, then the module name:
//
//	123.BookList
//
// The separator is assumed absent from module names. BuildKey does not
// check this; SplitKey splits on the first separator so the tenant part is
// always recovered correctly.
package keycodec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/derpz-discord/math-tavern-bot/internal/model"
)

// Separator joins the tenant id and the module name.
const Separator = "."

// ErrMalformedKey is returned by SplitKey for keys that were not produced by
// BuildKey.
var ErrMalformedKey = errors.New("malformed composite key")

// BuildKey returns the composite key for a tenant and module.
func BuildKey(tenant model.TenantID, module string) string {
	return TenantPrefix(tenant) + module
}

// TenantPrefix returns the key prefix shared by every module of a tenant.
func TenantPrefix(tenant model.TenantID) string {
	return strconv.FormatInt(int64(tenant), 10) + Separator
}

// SplitKey is the inverse of BuildKey.
func SplitKey(key string) (model.TenantID, string, error) {
	tenantPart, module, ok := strings.Cut(key, Separator)
	if !ok || tenantPart == "" || module == "" {
		return 0, "", fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}
	id, err := strconv.ParseInt(tenantPart, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %q: %v", ErrMalformedKey, key, err)
	}
	return model.TenantID(id), module, nil
}

// BuildKeys returns the composite keys for every tenant of a module, in the
// same order as tenants.
func BuildKeys(tenants []model.TenantID, module string) []string {
	keys := make([]string, len(tenants))
	for i, t := range tenants {
		keys[i] = BuildKey(t, module)
	}
	return keys
}
