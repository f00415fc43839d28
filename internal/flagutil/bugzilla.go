package flagutil

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/petr-muller/bzreport/internal/bugzilla"
	"github.com/petr-muller/bzreport/internal/config"
	"github.com/petr-muller/bzreport/internal/metrics"
)

const (
	apiKeyFileName string = "bugzilla-api-key"
)

// BugzillaOptions holds the flags needed to talk to a Bugzilla instance
type BugzillaOptions struct {
	Endpoint   string
	APIKeyFile string

	// explicitKeyFile is set when the key file was given on the command line
	// and so must exist
	explicitKeyFile bool
	defaultKeyFile  string
}

func (o *BugzillaOptions) defaults() (string, string) {
	o.defaultKeyFile = filepath.Join(config.MustConfigDir(), apiKeyFileName)
	return bugzilla.DefaultEndpoint, o.defaultKeyFile
}

// AddFlags injects Bugzilla options into the given FlagSet
func (o *BugzillaOptions) AddFlags(fs *flag.FlagSet) {
	endpoint, keyFile := o.defaults()
	fs.StringVar(&o.Endpoint, "bugzilla.endpoint", endpoint, "Bugzilla endpoint URL")
	fs.StringVar(&o.APIKeyFile, "bugzilla.api-key-file", keyFile, "Path to the file containing the Bugzilla API key (optional for public data)")
}

// AddPFlags injects Bugzilla options into the given pflag.FlagSet
func (o *BugzillaOptions) AddPFlags(fs *pflag.FlagSet) {
	endpoint, keyFile := o.defaults()
	fs.StringVar(&o.Endpoint, "bugzilla.endpoint", endpoint, "Bugzilla endpoint URL")
	fs.StringVar(&o.APIKeyFile, "bugzilla.api-key-file", keyFile, "Path to the file containing the Bugzilla API key (optional for public data)")
}

// SetFromPFlags records whether the key file was set explicitly
func (o *BugzillaOptions) SetFromPFlags(fs *pflag.FlagSet) {
	o.explicitKeyFile = fs.Changed("bugzilla.api-key-file")
}

func (o *BugzillaOptions) Validate() error {
	if o.Endpoint == "" {
		return errors.New("--bugzilla.endpoint must not be empty")
	}
	parsed, err := url.Parse(o.Endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("--bugzilla.endpoint %q is not a valid URL", o.Endpoint)
	}
	if o.APIKeyFile != "" && o.APIKeyFile != o.defaultKeyFile {
		o.explicitKeyFile = true
	}
	if o.explicitKeyFile {
		if _, err := os.Stat(o.APIKeyFile); err != nil {
			return fmt.Errorf("--bugzilla.api-key-file: %w", err)
		}
	}
	return nil
}

// apiKey reads the API key, a missing default key file means anonymous access
func (o *BugzillaOptions) apiKey() (string, error) {
	if o.APIKeyFile == "" {
		return "", nil
	}
	raw, err := os.ReadFile(o.APIKeyFile)
	if err != nil {
		if os.IsNotExist(err) && !o.explicitKeyFile {
			return "", nil
		}
		return "", fmt.Errorf("failed to read API key: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// Client creates a Bugzilla client from the options
func (o *BugzillaOptions) Client(m *metrics.Metrics) (*bugzilla.Client, error) {
	key, err := o.apiKey()
	if err != nil {
		return nil, err
	}
	return bugzilla.NewClient(o.Endpoint, key, bugzilla.WithMetrics(m)), nil
}
