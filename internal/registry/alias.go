package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/johndauphine/joinkit/internal/util"
)

// ErrAliasExhausted means every alias attempt was taken.
var ErrAliasExhausted = errors.New("no free alias")

// aliasLimit caps the stem part of an alias.
const aliasLimit = 16

// AliasFunc proposes an alias for a file stem. attempt counts from zero
// and grows with each collision.
type AliasFunc func(stem string, attempt int) string

// AliasCheck reports whether alias may name canon beyond this registry,
// for example because a store already holds another file's table under it.
type AliasCheck func(alias, canon string) (bool, error)

// DefaultAlias uses the sanitized stem first, then the stem with a short
// random suffix.
func DefaultAlias(stem string, attempt int) string {
	base := util.SanitizeIdentifier(stem, aliasLimit)
	if attempt == 0 {
		return base
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:4]
	return base + "_" + suffix
}

// mintAlias returns an alias for canon that no registered alias uses and
// the alias check, if any, accepts.
// Caller holds mu.
func (r *Registry) mintAlias(canon string) (string, error) {
	stem := util.FileStem(canon)
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		alias := r.alias(stem, attempt)
		if alias == "" {
			continue
		}
		if _, taken := r.aliases[alias]; taken {
			continue
		}
		if r.check != nil {
			free, err := r.check(alias, canon)
			if err != nil {
				return "", fmt.Errorf("checking alias %s: %w", alias, err)
			}
			if !free {
				continue
			}
		}
		return alias, nil
	}
	return "", fmt.Errorf("%w for %s after %d attempts", ErrAliasExhausted, canon, r.maxAttempts)
}
