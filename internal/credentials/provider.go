package credentials

import (
	"io"

	"stimlog/internal/config"
)

// NewProvider builds the provider selected by cfg. Dialogs read keys from in
// and draw to out.
func NewProvider(cfg config.CredentialsConfig, in io.Reader, out io.Writer) Provider {
	if cfg.Mode == "static" {
		return NewStatic(cfg.User, cfg.Password)
	}

	user := cfg.DefaultUser
	if cfg.User != "" {
		user = cfg.User
	}
	d := NewDialog(in, out, user)
	if cfg.PrefillPassword {
		d.PrefillPassword(cfg.DefaultPassword)
	}
	return d
}
