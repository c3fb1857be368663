// Package bilibili republishes staged recordings through an external
// uploader CLI: artifacts are grouped into stream sessions, each group is
// submitted as a new work or appended to an existing one, and the upload
// ledger stays ahead of any local file deletion.
package bilibili

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/livarr/livarr/internal/config"
	"github.com/livarr/livarr/internal/observability"
)

// BvidSource reports how a backend hands back the destination identifier
// for a newly created work.
type BvidSource int

const (
	// BvidSynchronous backends print the bvid in the create output.
	BvidSynchronous BvidSource = iota
	// BvidAsynchronous backends assign the bvid after ingest; callers
	// discover it by polling the submission listing.
	BvidAsynchronous
)

// ErrRateLimited is returned by Append when the destination refuses the
// part for submitting too frequently (code 21540).
var ErrRateLimited = errors.New("destination rate limit (21540)")

// Submission is one entry of the account's submission listing.
type Submission struct {
	Bvid  string
	Title string
}

// Backend abstracts the uploader CLI.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string
	// BvidSource reports whether Create returns the bvid synchronously.
	BvidSource() BvidSource
	// CheckLogin verifies the stored credentials still work.
	CheckLogin(ctx context.Context) error
	// Create submits path as a new work. An empty bvid with a nil error
	// means the submission was accepted but the identifier is not yet
	// known.
	Create(ctx context.Context, path string, spec SubmissionSpec) (string, error)
	// Append adds path as a further part of the work identified by bvid.
	Append(ctx context.Context, path, bvid, partTitle string) error
}

// SubmissionLister is implemented by backends whose CLI can read back the
// account's recent submissions. Backends that return the bvid from Create
// don't need it.
type SubmissionLister interface {
	// ListSubmissions returns recent submissions in the given status set
	// (comma-separated), newest first, up to size entries.
	ListSubmissions(ctx context.Context, status string, size int) ([]Submission, error)
}

// submissionCopyright marks every submission as a repost (2) rather than
// original content (1).
const submissionCopyright = 2

// rateLimitCode is the destination's "submissions too frequent" code.
const rateLimitCode = "21540"

var bvidPattern = regexp.MustCompile(`BV[0-9A-Za-z]{10}`)

// The uploader CLI prints these on an accepted submission; the JSON-ish
// variants appear when it relays the raw API response.
var (
	createSuccessPhrases = []string{"投稿成功", "APP接口投稿成功", `"code": Number(0)`, "code: 0"}
	appendSuccessPhrases = []string{"稿件修改成功", "投稿成功", `"code": Number(0)`}
)

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func extractBvid(output string) string {
	return bvidPattern.FindString(output)
}

func isRateLimited(output string) bool {
	return strings.Contains(output, rateLimitCode)
}

// outputTail trims CLI output to its informative end for error messages.
func outputTail(output string) string {
	s := strings.TrimSpace(output)
	const max = 200
	if len(s) <= max {
		return s
	}
	return strings.ToValidUTF8("..."+s[len(s)-max:], "")
}

// cliResult carries one CLI invocation's exit code and combined output.
type cliResult struct {
	exitCode int
	output   string
}

// cliRuntime is the resolved invocation environment for one backend.
type cliRuntime struct {
	bin     string
	cookies string
	submit  string
	line    string
}

// cliCore shells out to an uploader binary speaking the
// renew/upload/append verb set with -u cookie-file authentication.
// Resolution is deferred to call time so a missing binary surfaces at the
// login check rather than at startup.
type cliCore struct {
	name    string
	resolve func() (*cliRuntime, error)
	logger  *slog.Logger
}

func (c *cliCore) Name() string { return c.name }

func (c *cliCore) run(ctx context.Context, bin string, args []string) (*cliResult, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Debug("running uploader command",
		slog.String("command", bin+" "+strings.Join(args, " ")))

	err := cmd.Run()
	res := &cliResult{output: stdout.String() + "\n" + stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("running %s: %w", c.name, err)
		}
		res.exitCode = exitErr.ExitCode()
	}
	return res, nil
}

// CheckLogin renews the stored credentials; a nonzero exit means they are
// expired or the binary is unusable.
func (c *cliCore) CheckLogin(ctx context.Context) error {
	rt, err := c.resolve()
	if err != nil {
		return err
	}
	res, err := c.run(ctx, rt.bin, []string{"-u", rt.cookies, "renew"})
	if err != nil {
		return err
	}
	if res.exitCode != 0 {
		return fmt.Errorf("%s credential renewal failed (exit %d): %s",
			c.name, res.exitCode, outputTail(res.output))
	}
	return nil
}

// Create submits path as a new work and returns the bvid when the CLI
// printed one.
func (c *cliCore) Create(ctx context.Context, path string, spec SubmissionSpec) (string, error) {
	rt, err := c.resolve()
	if err != nil {
		return "", err
	}

	args := []string{
		"-u", rt.cookies,
		"upload",
		"--submit", rt.submit,
		"--tid", strconv.Itoa(spec.Tid),
		"--title", spec.Title,
		"--desc", spec.Desc,
		"--tag", spec.Tags,
		"--copyright", strconv.Itoa(submissionCopyright),
	}
	if rt.line != "" {
		args = append(args, "--line", rt.line)
	}
	if spec.Source != "" {
		args = append(args, "--source", spec.Source)
	}
	if spec.Cover != "" {
		args = append(args, "--cover", spec.Cover)
	}
	if spec.Dynamic != "" {
		args = append(args, "--dynamic", spec.Dynamic)
	}
	args = append(args, path)

	res, err := c.run(ctx, rt.bin, args)
	if err != nil {
		return "", err
	}
	if res.exitCode != 0 || !containsAny(res.output, createSuccessPhrases) {
		return "", fmt.Errorf("%s create failed (exit %d): %s",
			c.name, res.exitCode, outputTail(res.output))
	}
	return extractBvid(res.output), nil
}

// Append adds path as a further part of bvid. A rate-limited refusal is
// reported as ErrRateLimited so the caller can cool down and retry.
func (c *cliCore) Append(ctx context.Context, path, bvid, partTitle string) error {
	rt, err := c.resolve()
	if err != nil {
		return err
	}
	if partTitle != "" {
		// The CLI has no part-title flag; the destination derives the
		// part title from the filename.
		c.logger.Debug("part title is advisory for this backend",
			slog.String("part_title", partTitle))
	}

	args := []string{"-u", rt.cookies, "append", "--submit", rt.submit, "--vid", bvid}
	if rt.line != "" {
		args = append(args, "--line", rt.line)
	}
	args = append(args, path)

	res, err := c.run(ctx, rt.bin, args)
	if err != nil {
		return err
	}
	if isRateLimited(res.output) {
		return fmt.Errorf("%s append %s: %w", c.name, filepath.Base(path), ErrRateLimited)
	}
	if res.exitCode != 0 || !containsAny(res.output, appendSuccessPhrases) {
		return fmt.Errorf("%s append failed (exit %d): %s",
			c.name, res.exitCode, outputTail(res.output))
	}
	return nil
}

// BiliupCLI drives the biliup uploader binary, which prints the bvid in
// its create output.
type BiliupCLI struct {
	cliCore
}

// NewBiliupCLI returns the biliup backend.
func NewBiliupCLI(cfg config.UploadConfig, logger *slog.Logger) *BiliupCLI {
	b := &BiliupCLI{cliCore{
		name:   "biliup",
		logger: observability.WithComponent(logger, "bilibili.backend"),
	}}
	b.resolve = func() (*cliRuntime, error) { return biliupRuntime(cfg, b.logger) }
	return b
}

// BvidSource reports that biliup returns the bvid synchronously.
func (*BiliupCLI) BvidSource() BvidSource { return BvidSynchronous }

// Bilitool drives the bilitool uploader binary. The destination assigns
// the bvid after ingest, so callers discover it through ListSubmissions.
type Bilitool struct {
	cliCore
}

// NewBilitool returns the bilitool backend.
func NewBilitool(cfg config.UploadConfig, logger *slog.Logger) *Bilitool {
	b := &Bilitool{cliCore{
		name:   "bilitool",
		logger: observability.WithComponent(logger, "bilibili.backend"),
	}}
	b.resolve = func() (*cliRuntime, error) { return bilitoolRuntime(cfg, b.logger) }
	return b
}

// BvidSource reports that bilitool assigns the bvid asynchronously.
func (*Bilitool) BvidSource() BvidSource { return BvidAsynchronous }

// listLinePattern matches one submission per listing line: the bvid
// followed by the title. Header and progress lines don't match.
var listLinePattern = regexp.MustCompile(`^(BV[0-9A-Za-z]{10})\s+(.+)$`)

// ListSubmissions reads back the account's recent submissions.
func (b *Bilitool) ListSubmissions(ctx context.Context, status string, size int) ([]Submission, error) {
	rt, err := b.resolve()
	if err != nil {
		return nil, err
	}
	args := []string{"-u", rt.cookies, "list", "--status", status, "--size", strconv.Itoa(size)}
	res, err := b.run(ctx, rt.bin, args)
	if err != nil {
		return nil, err
	}
	if res.exitCode != 0 {
		return nil, fmt.Errorf("bilitool list failed (exit %d): %s",
			res.exitCode, outputTail(res.output))
	}

	var subs []Submission
	for _, line := range strings.Split(res.output, "\n") {
		m := listLinePattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		subs = append(subs, Submission{Bvid: m[1], Title: strings.TrimSpace(m[2])})
	}
	return subs, nil
}

// SelectBackend returns the backend named by the configuration. "auto"
// probes for a usable biliup binary with cookies and falls back to
// bilitool. An explicitly configured backend whose binary is missing
// fails later, at the login check.
func SelectBackend(cfg config.UploadConfig, logger *slog.Logger) Backend {
	log := observability.WithComponent(logger, "bilibili.backend")
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "biliup", "biliup_cli":
		return NewBiliupCLI(cfg, logger)
	case "bilitool":
		return NewBilitool(cfg, logger)
	case "", "auto":
	default:
		log.Warn("unknown upload backend, using auto detection",
			slog.String("backend", cfg.Backend))
	}

	if _, err := biliupRuntime(cfg, log); err == nil {
		return NewBiliupCLI(cfg, logger)
	}
	log.Info("no usable biliup binary, selecting bilitool")
	return NewBilitool(cfg, logger)
}

func biliupRuntime(cfg config.UploadConfig, logger *slog.Logger) (*cliRuntime, error) {
	bin, err := resolveBinary(cfg.BiliupPath, "biliup", logger)
	if err != nil {
		return nil, err
	}
	cookies, err := resolveCookies(cfg.CookiesPath, bin)
	if err != nil {
		return nil, err
	}
	return &cliRuntime{
		bin:     bin,
		cookies: cookies,
		submit:  normalizeSubmitMode(cfg.SubmitMode, logger),
		line:    strings.TrimSpace(cfg.Line),
	}, nil
}

func bilitoolRuntime(cfg config.UploadConfig, logger *slog.Logger) (*cliRuntime, error) {
	bin, err := resolveBinary(cfg.BilitoolPath, "bilitool", logger)
	if err != nil {
		return nil, err
	}
	cookies, err := resolveCookies(cfg.CookiesPath, bin)
	if err != nil {
		return nil, err
	}
	return &cliRuntime{
		bin:     bin,
		cookies: cookies,
		submit:  normalizeSubmitMode(cfg.SubmitMode, logger),
		line:    strings.TrimSpace(cfg.Line),
	}, nil
}

// resolveBinary prefers the configured path and falls back to PATH lookup.
func resolveBinary(configured, name string, logger *slog.Logger) (string, error) {
	if configured = strings.TrimSpace(configured); configured != "" {
		if info, err := os.Stat(configured); err == nil && !info.IsDir() {
			return configured, nil
		}
		logger.Warn("configured uploader binary not found, trying PATH",
			slog.String("binary", configured))
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s binary not found: %w", name, err)
	}
	return path, nil
}

// resolveCookies prefers the configured path, then a cookies.json sitting
// next to the binary.
func resolveCookies(configured, bin string) (string, error) {
	candidates := make([]string, 0, 2)
	if c := strings.TrimSpace(configured); c != "" {
		candidates = append(candidates, c)
	}
	candidates = append(candidates, filepath.Join(filepath.Dir(bin), "cookies.json"))

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("uploader cookies not found, tried %s", strings.Join(candidates, ", "))
}

// normalizeSubmitMode falls back to app for unsupported modes.
func normalizeSubmitMode(mode string, logger *slog.Logger) string {
	switch mode = strings.TrimSpace(mode); mode {
	case "", "app":
		return "app"
	case "b-cut-android":
		return mode
	}
	logger.Warn("unsupported submit mode, using app", slog.String("submit_mode", mode))
	return "app"
}
