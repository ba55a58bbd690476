// Package shellprofile implements the shell profile component (C4): a
// compiled-in table of behaviors per shell family, selected by a tagged
// variant rather than an interface hierarchy, per the "dynamic dispatch
// over shells" design note. Each profile knows how to build the sentinel
// suffix the session's run RPC appends to a command, how to recognize that
// sentinel in output, and how to recognize its own prompt (used as a
// cross-check so a shell echoing the command text back doesn't trigger a
// false-positive sentinel match).
package shellprofile

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

// Kind tags a supported shell family.
type Kind string

const (
	Bash Kind = "bash"
	Zsh  Kind = "zsh"
	Sh   Kind = "sh"
	Cmd  Kind = "cmd"
	Pwsh Kind = "pwsh"
)

// Profile bundles everything the session's run RPC and prompt detection
// need for one shell family.
type Profile struct {
	Kind Kind
	// Path is the executable to exec, resolved at detection time.
	Path string
	// Args are extra argv entries appended after Path (e.g. "-NoLogo" for
	// pwsh) so the shell starts as interactively as possible without
	// sourcing a throwaway rc file twice.
	Args []string

	// SentinelSuffix formats the suffix appended to a command so its exit
	// status and a unique id are echoed once the command completes.
	SentinelSuffix func(id string) string
	// SentinelRegexp matches a completed sentinel line, with named groups
	// "id" and "code".
	SentinelRegexp *regexp.Regexp
	// PromptRegexp matches a bare shell prompt line. Used to cross-check a
	// sentinel match isn't just the command's own echoed source text.
	PromptRegexp *regexp.Regexp
}

var registry = map[Kind]func() Profile{
	Bash: bashProfile,
	Zsh:  zshProfile,
	Sh:   shProfile,
	Cmd:  cmdProfile,
	Pwsh: pwshProfile,
}

// Get returns the compiled-in profile for kind, resolving its executable
// path via exec.LookPath (or PATHEXT search on Windows for cmd/pwsh).
func Get(kind Kind) (Profile, error) {
	build, ok := registry[kind]
	if !ok {
		return Profile{}, fmt.Errorf("shellprofile: unknown shell kind %q", kind)
	}
	p := build()
	path, err := exec.LookPath(p.Path)
	if err != nil {
		return Profile{}, fmt.Errorf("shellprofile: %s not found in PATH: %w", p.Path, err)
	}
	p.Path = path
	return p, nil
}

// Detect picks a default shell kind: on Windows, pwsh if it is on PATH,
// else cmd; on POSIX, zsh or bash when $SHELL names one of them, else sh.
// It never errors — it always falls back to Sh/Cmd as the
// lowest-common-denominator shell for the platform.
func Detect() Kind {
	if k := detectPlatform(); k != "" {
		return k
	}
	if shellEnv := os.Getenv("SHELL"); shellEnv != "" {
		base := strings.ToLower(shellEnv[strings.LastIndex(shellEnv, "/")+1:])
		switch {
		case strings.Contains(base, "zsh"):
			return Zsh
		case strings.Contains(base, "bash"):
			return Bash
		}
	}
	return Sh
}

func posixSentinelSuffix(id string) string {
	return fmt.Sprintf(`; echo "__SILC_DONE_%s__:$?"`, id)
}

func bashProfile() Profile {
	return Profile{
		Kind: Bash,
		Path: "bash",
		Args: []string{"--noprofile", "--norc", "-i"},
		SentinelSuffix: posixSentinelSuffix,
		SentinelRegexp: regexp.MustCompile(`(?m)^__SILC_DONE_(?P<id>[0-9a-f]+)__:(?P<code>-?\d+)\s*$`),
		PromptRegexp:   regexp.MustCompile(`(?m)^.*[$#]\s*$`),
	}
}

func zshProfile() Profile {
	p := bashProfile()
	p.Kind = Zsh
	p.Path = "zsh"
	p.Args = []string{"-i"}
	return p
}

func shProfile() Profile {
	p := bashProfile()
	p.Kind = Sh
	p.Path = "sh"
	p.Args = []string{"-i"}
	return p
}

func cmdProfile() Profile {
	return Profile{
		Kind: Cmd,
		Path: "cmd.exe",
		SentinelSuffix: func(id string) string {
			return fmt.Sprintf(` & echo __SILC_DONE_%s__:%%ERRORLEVEL%%`, id)
		},
		SentinelRegexp: regexp.MustCompile(`(?m)^__SILC_DONE_(?P<id>[0-9a-f]+)__:(?P<code>-?\d+)\s*$`),
		PromptRegexp:   regexp.MustCompile(`(?m)^[A-Za-z]:\\.*>\s*$`),
	}
}

func pwshProfile() Profile {
	return Profile{
		Kind: Pwsh,
		Path: "pwsh",
		Args: []string{"-NoLogo", "-NoExit"},
		SentinelSuffix: func(id string) string {
			return fmt.Sprintf(`; Write-Output "__SILC_DONE_%s__:$LASTEXITCODE"`, id)
		},
		SentinelRegexp: regexp.MustCompile(`(?m)^__SILC_DONE_(?P<id>[0-9a-f]+)__:(?P<code>-?\d+)\s*$`),
		PromptRegexp:   regexp.MustCompile(`(?m)^PS .*>\s*$`),
	}
}
