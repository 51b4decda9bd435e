// Package publish commits the missing-links file and pushes it to the git remote.
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Defaults match the GitHub Actions bot identity.
const (
	DefaultAuthorName  = "github-actions[bot]"
	DefaultAuthorEmail = "41898282+github-actions[bot]@users.noreply.github.com"
	DefaultMessage     = "Update missing output txt"
)

// Publisher receives the final missing-links file once per run.
type Publisher interface {
	Publish(ctx context.Context, path string) error
}

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, out)
}

// Runner executes a command in dir and returns its combined output.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args. A non-zero exit is returned as *ExitError.
func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if exitErr, ok := err.(*exec.ExitError); ok {
		return out.String(), &ExitError{Code: exitErr.ExitCode(), Output: out.String()}
	}
	return out.String(), err
}

var _ Publisher = (*Git)(nil)

// Git publishes through the git command line in a working tree.
type Git struct {
	Runner      Runner
	Dir         string // working tree; "" is the process cwd
	Remote      string // "" pushes to the branch's upstream
	Branch      string
	AuthorName  string
	AuthorEmail string
	Message     string
}

// NewGit returns a Git publisher with the bot identity and default message.
func NewGit(dir string) *Git {
	return &Git{
		Runner:      ExecRunner{},
		Dir:         dir,
		AuthorName:  DefaultAuthorName,
		AuthorEmail: DefaultAuthorEmail,
		Message:     DefaultMessage,
	}
}

// Publish stages path, commits it, and pushes. When the staged file is
// unchanged the commit and push are skipped.
func (g *Git) Publish(ctx context.Context, path string) error {
	log := zap.L().With(zap.String("path", path))

	if g.AuthorEmail != "" {
		if err := g.git(ctx, "config", "config", "user.email", g.AuthorEmail); err != nil {
			return err
		}
	}
	if g.AuthorName != "" {
		if err := g.git(ctx, "config", "config", "user.name", g.AuthorName); err != nil {
			return err
		}
	}
	if err := g.git(ctx, "add", "add", "--", path); err != nil {
		return err
	}

	changed, err := g.staged(ctx, path)
	if err != nil {
		return err
	}
	if !changed {
		log.Info("publish: missing-links file unchanged, nothing to commit")
		return nil
	}

	msg := g.Message
	if msg == "" {
		msg = DefaultMessage
	}
	if err := g.git(ctx, "commit", "commit", "-m", msg, "--", path); err != nil {
		return err
	}

	push := []string{"push"}
	if g.Remote != "" {
		push = append(push, g.Remote)
		if g.Branch != "" {
			push = append(push, g.Branch)
		}
	}
	if err := g.git(ctx, "push", push...); err != nil {
		return err
	}

	log.Info("publish: pushed missing-links file",
		zap.String("remote", g.Remote),
		zap.String("branch", g.Branch),
	)
	return nil
}

// staged reports whether path differs between the index and HEAD.
func (g *Git) staged(ctx context.Context, path string) (bool, error) {
	_, err := g.Runner.Run(ctx, g.Dir, "git", "diff", "--cached", "--quiet", "--", path)
	if err == nil {
		return false, nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code == 1 {
		return true, nil
	}
	return false, eris.Wrap(err, "publish: git diff")
}

func (g *Git) git(ctx context.Context, step string, args ...string) error {
	out, err := g.Runner.Run(ctx, g.Dir, "git", args...)
	if err != nil {
		return eris.Wrapf(err, "publish: git %s", step)
	}
	zap.L().Debug("publish: git "+step, zap.String("output", strings.TrimSpace(out)))
	return nil
}
