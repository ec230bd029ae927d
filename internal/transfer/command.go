package transfer

import (
	"strconv"
	"strings"

	"github.com/dukerupert/hostvault/internal/model"
	"github.com/kballard/go-shellquote"
)

// Command is a fully assembled transfer invocation. Args is passed to the
// child as an argv list; no shell ever sees it. Env holds extra variables
// for the child and is never logged.
type Command struct {
	Path string
	Args []string
	Env  []string
}

// Redacted returns a loggable form of the command. Environment entries are
// replaced by a marker so credentials passed through them stay out of logs.
func (c Command) Redacted() string {
	s := shellquote.Join(append([]string{c.Path}, c.Args...)...)
	if len(c.Env) > 0 {
		return "[env redacted] " + s
	}
	return s
}

func (c Command) String() string {
	return c.Redacted()
}

// Builder assembles rsync commands for a host.
type Builder struct {
	RsyncPath   string
	SSHPassPath string
}

func NewBuilder(rsyncPath, sshpassPath string) Builder {
	if rsyncPath == "" {
		rsyncPath = "rsync"
	}
	if sshpassPath == "" {
		sshpassPath = "sshpass"
	}
	return Builder{RsyncPath: rsyncPath, SSHPassPath: sshpassPath}
}

// Backup builds the mirror-mode pull of sourcePath on the host into the
// local artifact directory. Files absent on the host are deleted locally.
func (b Builder) Backup(h *model.Host, sourcePath, artifactPath string) Command {
	args := []string{"-avz", "--delete"}
	args = append(args, b.remoteArgs(h)...)
	args = append(args, h.Target()+":"+sourcePath, artifactPath)
	return b.wrap(h, args)
}

// Restore builds the non-deleting push of an artifact's contents back to
// dest on the host. dest is validated before anything is assembled.
func (b Builder) Restore(h *model.Host, artifactPath, dest string) (Command, error) {
	if err := ValidateRestorePath(dest); err != nil {
		return Command{}, err
	}
	src := strings.TrimRight(artifactPath, "/") + "/"

	args := []string{"-avz"}
	args = append(args, b.remoteArgs(h)...)
	args = append(args, src, h.Target()+":"+dest)
	return b.wrap(h, args), nil
}

// SSHCommand returns the remote shell string handed to rsync's -e flag.
// Host keys are not verified: hosts are trusted on first use.
func SSHCommand(h *model.Host) string {
	port := h.Port
	if port == 0 {
		port = model.DefaultSSHPort
	}
	parts := []string{"ssh", "-p", strconv.Itoa(port), "-o", "StrictHostKeyChecking=no"}
	if h.KeyPath != "" {
		parts = append(parts, "-i", h.KeyPath)
	}
	return shellquote.Join(parts...)
}

func (b Builder) remoteArgs(h *model.Host) []string {
	args := []string{"-e", SSHCommand(h)}
	if h.UseSudo {
		args = append(args, "--rsync-path", "sudo rsync")
	}
	return args
}

// wrap prefixes sshpass for password hosts. The password travels in SSHPASS
// only, so it never lands in argv.
func (b Builder) wrap(h *model.Host, args []string) Command {
	if !h.UsesPassword() {
		return Command{Path: b.RsyncPath, Args: args}
	}
	return Command{
		Path: b.SSHPassPath,
		Args: append([]string{"-e", b.RsyncPath}, args...),
		Env:  []string{"SSHPASS=" + h.Password},
	}
}
