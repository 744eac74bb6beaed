package collector

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/janekbaraniewski/usagesync/internal/config"
)

// Auth is a single request header identifying the caller.
type Auth struct {
	Header string
	Value  string
	// Origin names where the credential came from: env, store, config or dev.
	Origin string
}

func (a Auth) IsZero() bool { return a.Header == "" || a.Value == "" }

func (a Auth) apply(req *http.Request) {
	if !a.IsZero() {
		req.Header.Set(a.Header, a.Value)
	}
}

func bearer(token, origin string) Auth {
	return Auth{Header: "Authorization", Value: "Bearer " + token, Origin: origin}
}

type AuthOptions struct {
	Getenv       func(string) string
	TokenPath    string
	DeviceSecret string
	// ConfigPath and LegacyToken locate a plaintext token in settings.json,
	// which is moved into the token store on first use.
	ConfigPath  string
	LegacyToken string
	Logger      *zap.Logger
}

// ResolveAuth picks credentials in order: USAGESYNC_API_TOKEN, the stored
// token, the legacy config token, then the x-user-id development header when
// USAGESYNC_ALLOW_DEV_HEADER_AUTH=true. A zero Auth means not linked.
func ResolveAuth(opts AuthOptions) Auth {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	if tok := strings.TrimSpace(getenv("USAGESYNC_API_TOKEN")); tok != "" {
		return bearer(tok, "env")
	}

	if opts.TokenPath != "" && opts.DeviceSecret != "" {
		if migrated, err := config.MigratePlaintextToken(opts.TokenPath, opts.DeviceSecret); err != nil {
			log.Warn("token migration failed", zap.String("event", "token_migrate_failed"), zap.Error(err))
		} else if migrated {
			log.Info("plaintext token encrypted", zap.String("event", "token_migrated"))
		}

		tok, err := config.LoadTokenFrom(opts.TokenPath, opts.DeviceSecret)
		switch {
		case errors.Is(err, config.ErrTokenUndecryptable):
			log.Warn("stored token unreadable", zap.String("event", "token_unreadable"))
		case err != nil:
			log.Warn("stored token read failed", zap.String("event", "token_read_failed"), zap.Error(err))
		case tok != "":
			return bearer(tok, "store")
		}
	}

	if legacy := strings.TrimSpace(opts.LegacyToken); legacy != "" {
		if opts.TokenPath != "" && opts.DeviceSecret != "" {
			if err := config.SaveTokenTo(opts.TokenPath, legacy, opts.DeviceSecret); err != nil {
				log.Warn("legacy token migration failed", zap.String("event", "token_migrate_failed"), zap.Error(err))
			} else if opts.ConfigPath != "" {
				if err := config.ClearLegacyTokenFrom(opts.ConfigPath); err != nil {
					log.Warn("legacy token cleanup failed", zap.String("event", "token_cleanup_failed"), zap.Error(err))
				}
			}
		}
		return bearer(legacy, "config")
	}

	if strings.EqualFold(strings.TrimSpace(getenv("USAGESYNC_ALLOW_DEV_HEADER_AUTH")), "true") {
		if uid := strings.TrimSpace(getenv("USAGESYNC_USER_ID")); uid != "" {
			return Auth{Header: "x-user-id", Value: uid, Origin: "dev"}
		}
	}
	return Auth{}
}
