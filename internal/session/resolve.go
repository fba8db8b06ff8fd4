package session

import (
	"os"
	"strings"

	"github.com/matheus3301/chatline/internal/config"
)

const DefaultSessionName = "main"

// SessionEnv names the session when no --session flag is given.
const SessionEnv = "CHATLINE_SESSION"

// Resolve picks the active session name. The first non-blank source wins:
// the --session flag, $CHATLINE_SESSION, default_session from config.toml,
// then DefaultSessionName. The result is not validated.
func Resolve(flag string) string {
	if name := strings.TrimSpace(flag); name != "" {
		return name
	}
	if name := strings.TrimSpace(os.Getenv(SessionEnv)); name != "" {
		return name
	}
	if cfg, err := config.Load(ConfigPath()); err == nil {
		if name := strings.TrimSpace(cfg.DefaultSession); name != "" {
			return name
		}
	}
	return DefaultSessionName
}
