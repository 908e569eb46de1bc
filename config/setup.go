package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// envOrder is the order keys are written to the config file in.
var envOrder = []string{
	EnvPrefix + "_API_BASE_URL",
	EnvPrefix + "_API_TOKEN",
	EnvPrefix + "_PUBLIC_URL",
	EnvPrefix + "_TOKEN_KEY",
}

// FilePath returns the path of the config file, creating its directory.
func FilePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return filepath.Join(dir, EnvFileName), nil
}

// NeedsSetup reports whether neither a config file nor an API base URL in
// the environment exists.
func NeedsSetup() bool {
	if os.Getenv(EnvPrefix+"_API_BASE_URL") != "" {
		return false
	}
	path, err := FilePath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return errors.Is(err, os.ErrNotExist)
}

// IsInteractiveTerminal returns true if both stdin and stdout are TTYs.
func IsInteractiveTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// RunSetupWizard asks for the API connection settings, writes them to the
// config file and sets them in the current process. checkAPI, when not nil,
// is called with the entered base URL and token before saving. Returns false
// if setup was cancelled or failed.
func RunSetupWizard(checkAPI func(baseURL, token string) error) bool {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		MarginBottom(1)

	fmt.Println()
	fmt.Println(titleStyle.Render("resellkit - First-time Setup"))
	fmt.Println()

	baseURL := "http://localhost:8000"
	publicURL := "http://localhost:8080"
	var token string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("API base URL").
				Description("Address of the analysis API").
				Value(&baseURL).
				Validate(validateHTTPURL),
			huh.NewInput().
				Title("API token").
				Description("Leave empty if the API does not require one").
				EchoMode(huh.EchoModePassword).
				Value(&token),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Public URL").
				Description("Address this service is reachable at, used in image links").
				Value(&publicURL).
				Validate(validateHTTPURL),
		),
	).WithTheme(huh.ThemeBase16())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("\nSetup cancelled.")
			return false
		}
		fmt.Printf("\nError: %v\n", err)
		return false
	}

	warnStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	if checkAPI != nil {
		if err := checkAPI(baseURL, token); err != nil {
			fmt.Println(warnStyle.Render(fmt.Sprintf("! API not reachable: %v", err)))
		}
	}

	values := map[string]string{
		EnvPrefix + "_API_BASE_URL": baseURL,
		EnvPrefix + "_API_TOKEN":    token,
		EnvPrefix + "_PUBLIC_URL":   publicURL,
		EnvPrefix + "_TOKEN_KEY":    generateTokenKey(),
	}

	path, err := FilePath()
	if err == nil {
		err = WriteEnvFile(path, values)
	}
	if err != nil {
		fmt.Printf("\nError saving configuration: %v\n", err)
		WaitOnWindows()
		return false
	}

	for k, v := range values {
		os.Setenv(k, v)
	}

	successStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)
	pathStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("245"))

	fmt.Println()
	fmt.Println(successStyle.Render("✓ Configuration saved"))
	fmt.Println(pathStyle.Render("  " + path))
	fmt.Println()

	return true
}

func validateHTTPURL(s string) error {
	if s == "" {
		return errors.New("URL is required")
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http(s) URL")
	}
	return nil
}

func generateTokenKey() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.URLEncoding.EncodeToString(b)
}

// WriteEnvFile writes the known keys of values to path in a fixed order with
// 0600 permissions. Empty values are skipped.
func WriteEnvFile(path string, values map[string]string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	for _, key := range envOrder {
		val, ok := values[key]
		if !ok || val == "" {
			continue
		}
		if _, err := fmt.Fprintf(f, "%s=%q\n", key, val); err != nil {
			return fmt.Errorf("failed to write %s: %w", key, err)
		}
	}
	return nil
}

// WaitOnWindows pauses so error messages stay visible before the console
// window closes.
func WaitOnWindows() {
	if runtime.GOOS == "windows" {
		fmt.Println()
		fmt.Println("Press Enter to exit...")
		fmt.Scanln()
	}
}
