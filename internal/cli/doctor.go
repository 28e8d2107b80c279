package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/masoudn84/npm-offline-package-mirror/internal/branding"
	"github.com/masoudn84/npm-offline-package-mirror/internal/command"
	"github.com/masoudn84/npm-offline-package-mirror/internal/config"
	"github.com/masoudn84/npm-offline-package-mirror/internal/discovery"
	"github.com/spf13/cobra"
)

// minPackDestination is the first npm release with `npm pack --pack-destination`.
var minPackDestination = semver.MustParse("7.18.0")

const doctorTimeout = 15 * time.Second

func init() {
	addRunFlags(doctorCmd.Flags())
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that npm, the staging directory and the registry are usable",
	Long:  `Run diagnostic checks against the current settings before a publish run.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		logger, err := newLogger(settings.LogLevel)
		if err != nil {
			return err
		}

		d := &doctor{
			settings: settings,
			runner:   &command.ExecRunner{Logger: logger},
			client:   &http.Client{Timeout: doctorTimeout},
		}
		results := d.run(cmd.Context())
		printChecks(cmd.OutOrStdout(), results)

		for _, r := range results {
			if r.status == checkFail {
				return &ExitError{Code: 1, Err: fmt.Errorf("%s: %s", r.name, r.detail)}
			}
		}
		return nil
	},
}

type checkStatus int

const (
	checkOK checkStatus = iota
	checkWarn
	checkFail
)

type checkResult struct {
	name   string
	status checkStatus
	detail string
}

// doctor runs the environment checks for one set of settings.
type doctor struct {
	settings *config.Settings
	runner   command.Runner
	client   *http.Client
}

func (d *doctor) run(ctx context.Context) []checkResult {
	return []checkResult{
		d.checkConfig(),
		d.checkNPM(ctx),
		d.checkRoot(),
		d.checkStaging(),
		d.checkRegistry(ctx),
	}
}

func (d *doctor) checkConfig() checkResult {
	if err := d.settings.Validate(); err != nil {
		return checkResult{"settings", checkFail, err.Error()}
	}
	return checkResult{"settings", checkOK, "valid"}
}

func (d *doctor) checkNPM(ctx context.Context) checkResult {
	npm, err := command.ParseProgram(d.settings.NPMCommand)
	if err != nil {
		return checkResult{"npm", checkFail, err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()
	out, err := d.runner.Run(ctx, command.Invocation{Args: npm.With("--version")})
	if err != nil {
		return checkResult{"npm", checkFail, err.Error()}
	}
	if out.ExitCode != 0 {
		return checkResult{"npm", checkFail, fmt.Sprintf("%s --version exited with status %d", strings.Join(npm, " "), out.ExitCode)}
	}

	raw := out.LastLine()
	v, err := semver.NewVersion(raw)
	if err != nil {
		return checkResult{"npm", checkWarn, fmt.Sprintf("unrecognized version %q", raw)}
	}
	if v.LessThan(minPackDestination) {
		return checkResult{"npm", checkWarn, fmt.Sprintf("npm %s lacks --pack-destination; archives will be moved out of package directories", v)}
	}
	return checkResult{"npm", checkOK, "npm " + v.String()}
}

func (d *doctor) checkRoot() checkResult {
	disc := discovery.New(discovery.Options{RecurseIntoUnits: d.settings.RecurseIntoUnits})
	n, err := disc.Count(d.settings.Root)
	if err != nil {
		return checkResult{"root", checkFail, err.Error()}
	}
	if n == 0 {
		return checkResult{"root", checkWarn, fmt.Sprintf("no packages under %s", d.settings.Root)}
	}
	return checkResult{"root", checkOK, numbers.Sprintf("%d packages under %s", n, d.settings.Root)}
}

func (d *doctor) checkStaging() checkResult {
	dir := d.settings.StagingDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return checkResult{"staging", checkFail, err.Error()}
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return checkResult{"staging", checkFail, fmt.Sprintf("%s is not writable: %v", dir, err)}
	}
	f.Close()
	os.Remove(f.Name())
	abs, _ := filepath.Abs(dir)
	return checkResult{"staging", checkOK, abs + " is writable"}
}

// checkRegistry treats any HTTP answer as reachable; authentication is
// only exercised by a real publish.
func (d *doctor) checkRegistry(ctx context.Context) checkResult {
	if d.settings.RegistryURL == "" {
		return checkResult{"registry", checkFail, "no registry URL configured"}
	}
	endpoint := strings.TrimRight(d.settings.RegistryURL, "/") + "/-/ping"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return checkResult{"registry", checkFail, err.Error()}
	}
	req.Header.Set("User-Agent", branding.UserAgent())
	if d.settings.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.settings.Token)
	} else if d.settings.Username != "" {
		req.SetBasicAuth(d.settings.Username, d.settings.Password)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return checkResult{"registry", checkFail, fmt.Sprintf("unreachable: %v", err)}
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return checkResult{"registry", checkWarn, fmt.Sprintf("reachable, but answered %s; check credentials", resp.Status)}
	case resp.StatusCode >= 500:
		return checkResult{"registry", checkWarn, "reachable, but answered " + resp.Status}
	}
	return checkResult{"registry", checkOK, "reachable"}
}

func printChecks(w io.Writer, results []checkResult) {
	for _, r := range results {
		var tag string
		switch r.status {
		case checkOK:
			tag = SuccessStyle.Render("[ OK ]")
		case checkWarn:
			tag = WarningStyle.Render("[WARN]")
		default:
			tag = ErrorStyle.Render("[FAIL]")
		}
		fmt.Fprintf(w, "  %s %s %s\n", tag, labelStyle.Width(10).Render(r.name), r.detail)
	}
}
