package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrSecretNotFound возвращается, когда источник не содержит ни одного из ожидаемых ключей.
var ErrSecretNotFound = errors.New("secret not found")

// EnvResolver читает секрет из переменной окружения.
type EnvResolver struct {
	Name string
}

// Resolve возвращает значение переменной.
func (r EnvResolver) Resolve(context.Context) (string, error) {
	value := strings.TrimSpace(os.Getenv(r.Name))
	if value == "" {
		return "", fmt.Errorf("%w: env %s", ErrSecretNotFound, r.Name)
	}
	return value, nil
}

// FileResolver читает JSON-документ секрета (например, смонтированный из секрет-хранилища)
// и возвращает первое непустое значение из Keys.
type FileResolver struct {
	Path string
	Keys []string
}

// Resolve перечитывает файл на каждый вызов, поэтому ротация секрета видна после Invalidate.
func (r FileResolver) Resolve(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	raw, err := os.ReadFile(r.Path)
	if err != nil {
		return "", fmt.Errorf("read secret file: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("decode secret file: %w", err)
	}

	for _, key := range r.Keys {
		if value, ok := doc[key].(string); ok && strings.TrimSpace(value) != "" {
			return value, nil
		}
	}
	return "", fmt.Errorf("%w: keys %v in %s", ErrSecretNotFound, r.Keys, r.Path)
}

// Chain пробует резолверы по порядку и возвращает первый успешный результат.
type Chain []Resolver

// Resolve возвращает первый найденный секрет.
func (c Chain) Resolve(ctx context.Context) (string, error) {
	var errs []error
	for _, r := range c {
		value, err := r.Resolve(ctx)
		if err == nil {
			return value, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", ErrSecretNotFound
	}
	return "", errors.Join(errs...)
}
