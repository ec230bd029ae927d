package model

import (
	"fmt"
	"strings"
	"time"
)

type AuthMethod string

const (
	AuthPassword AuthMethod = "password"
	AuthKey      AuthMethod = "key"
)

const DefaultSSHPort = 22

// Host is a remote machine registered as a backup target.
type Host struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Address    string     `json:"address"`
	Port       int        `json:"port"`
	Username   string     `json:"username"`
	AuthMethod AuthMethod `json:"auth_method"`
	Password   string     `json:"-"`
	KeyPath    string     `json:"key_path,omitempty"`
	UseSudo    bool       `json:"use_sudo"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// HasPassword reports whether a password is stored, without exposing it.
func (h *Host) HasPassword() bool {
	return h.Password != ""
}

// UsesPassword reports whether transfers must authenticate with the stored
// password. A configured key path always wins.
func (h *Host) UsesPassword() bool {
	return h.Password != "" && h.KeyPath == ""
}

// Target returns the user@address form used by ssh and rsync.
func (h *Host) Target() string {
	return h.Username + "@" + h.Address
}

// Validate checks required fields and that the credential matching the
// auth method is present. It fills in the default port.
func (h *Host) Validate() error {
	h.Name = strings.TrimSpace(h.Name)
	h.Address = strings.TrimSpace(h.Address)
	h.Username = strings.TrimSpace(h.Username)

	if h.Name == "" {
		return fmt.Errorf("name is required")
	}
	if h.Address == "" {
		return fmt.Errorf("address is required")
	}
	if h.Username == "" {
		return fmt.Errorf("username is required")
	}
	if strings.ContainsAny(h.Address, " @:/") || strings.HasPrefix(h.Address, "-") {
		return fmt.Errorf("address %q is not a valid host name or IP", h.Address)
	}
	if strings.ContainsAny(h.Username, " @:/") || strings.HasPrefix(h.Username, "-") {
		return fmt.Errorf("username %q is not valid", h.Username)
	}
	if h.Port == 0 {
		h.Port = DefaultSSHPort
	}
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}

	switch h.AuthMethod {
	case "":
		h.AuthMethod = AuthPassword
		fallthrough
	case AuthPassword:
		if h.Password == "" {
			return fmt.Errorf("password is required for password authentication")
		}
	case AuthKey:
		if h.KeyPath == "" {
			return fmt.Errorf("key_path is required for key authentication")
		}
	default:
		return fmt.Errorf("auth_method must be password or key")
	}
	return nil
}
