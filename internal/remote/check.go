package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukerupert/hostvault/internal/model"
)

const (
	unameCommand     = "uname -a"
	sudoCheckCommand = "sudo -n rsync --version"
)

// ConnectionReport is the outcome of TestConnection.
type ConnectionReport struct {
	Success       bool   `json:"success"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
	SystemInfo    string `json:"system_info,omitempty"`
	SudoAvailable *bool  `json:"sudo_available,omitempty"`
	SudoMessage   string `json:"sudo_message,omitempty"`
	SudoDetails   string `json:"sudo_details,omitempty"`
}

// TestConnection opens a session, reports the remote uname and, when
// checkSudo is set, whether rsync can run under sudo without a password.
// Connection failures are reported with ConnectFailedMessage only.
func (c *Client) TestConnection(ctx context.Context, h *model.Host, checkSudo bool) ConnectionReport {
	var report ConnectionReport
	err := c.WithSession(ctx, h, func(s *Session) error {
		res, err := s.Exec(ctx, unameCommand)
		if err != nil {
			return err
		}
		report.Success = true
		report.Message = "Connection successful"
		report.SystemInfo = strings.TrimSpace(res.Stdout)

		if !checkSudo {
			return nil
		}
		sudo, err := s.Exec(ctx, sudoCheckCommand)
		if err != nil {
			return err
		}
		ok, msg, details := classifySudo(sudo, h.Username)
		report.SudoAvailable = &ok
		report.SudoMessage = msg
		report.SudoDetails = details
		return nil
	})
	if err != nil {
		c.logger.Error("connection test failed", "host", h.Name, "error", err)
		return ConnectionReport{Error: ConnectFailedMessage}
	}
	return report
}

func classifySudo(res ExecResult, username string) (ok bool, message, details string) {
	combined := strings.ToLower(res.Stdout + " " + res.Stderr)
	switch {
	case res.ExitCode == 0 && strings.Contains(strings.ToLower(res.Stdout), "rsync"):
		return true, "User has passwordless sudo access to rsync", ""
	case strings.Contains(combined, "password is required"):
		return false,
			"User requires password for sudo. Please configure passwordless sudo for rsync.",
			fmt.Sprintf("Add this line to /etc/sudoers using visudo:\n%s ALL=(ALL) NOPASSWD: /usr/bin/rsync", username)
	default:
		return false, "User does not have sudo access to rsync", strings.TrimSpace(res.Stdout + " " + res.Stderr)
	}
}
