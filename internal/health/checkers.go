package health

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"

	"github.com/sesli-ai/sesli/internal/persona"
)

// Personas reports whether the persona source can list personas.
func Personas(store persona.Store) Checker {
	return Checker{
		Name: "personas",
		Check: func(ctx context.Context) error {
			if _, err := store.List(ctx); err != nil {
				return fmt.Errorf("list personas: %w", err)
			}
			return nil
		},
	}
}

// Executable reports whether the named binary is found on PATH.
func Executable(name string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if _, err := exec.LookPath(name); err != nil {
				return fmt.Errorf("%s not found: %w", name, err)
			}
			return nil
		},
	}
}

// Reachable reports whether url answers a HEAD request without a 5xx status.
// 4xx counts as up.
func Reachable(name, url string, client *http.Client) Checker {
	if client == nil {
		client = http.DefaultClient
	}
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("%s unreachable: %w", name, err)
			}
			resp.Body.Close()
			if resp.StatusCode >= http.StatusInternalServerError {
				return fmt.Errorf("%s: status %d", name, resp.StatusCode)
			}
			return nil
		},
	}
}
