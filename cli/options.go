package cli

import (
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/georgepadayatti/pdfsignatures/config"
	"github.com/georgepadayatti/pdfsignatures/document"
)

var errHelp = errors.New("help requested")

// stringList collects every occurrence of a repeatable flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

// options is the keyed option set of one invocation.
type options struct {
	command string

	file          string
	out           string
	password      string
	estimatedSize int
	certLevel     int
	reason        string
	location      string
	contact       string
	date          string
	algorithm     string
	signature     string
	crls          stringList
	ocsps         stringList
	configPath    string

	// set records the flags given on the command line.
	set map[string]bool

	cfg    *config.Config
	logger *log.Logger
}

func parseOptions(command string, args []string) (*options, error) {
	o := &options{command: command, set: make(map[string]bool)}

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&o.file, "file", "", "Path to the document")
	fs.StringVar(&o.file, "buffer", "", "Alias of -file")
	fs.StringVar(&o.out, "out", "", "Path where to save a new document")
	fs.StringVar(&o.password, "password", "", "Document password")
	fs.IntVar(&o.estimatedSize, "estimatedsize", 0, "Estimated signature size in bytes")
	fs.IntVar(&o.certLevel, "certlevel", 0, "Certification level, 0 to 3")
	fs.StringVar(&o.reason, "reason", "", "Signing reason")
	fs.StringVar(&o.location, "location", "", "Signing location")
	fs.StringVar(&o.contact, "contact", "", "Signing contact")
	fs.StringVar(&o.date, "date", "", "Date of signing in ISO 8601 format")
	fs.StringVar(&o.algorithm, "algorithm", "", "Digest algorithm")
	fs.StringVar(&o.signature, "signature", "", "Base64-encoded signature")
	fs.Var(&o.crls, "crl", "Base64-encoded CRL, repeatable")
	fs.Var(&o.ocsps, "ocsp", "Base64-encoded OCSP response, repeatable")
	fs.StringVar(&o.configPath, "config", "", "Path to a YAML configuration file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, errHelp
		}
		return nil, argumentError(err.Error())
	}
	if fs.NArg() > 0 {
		return nil, argumentError(fmt.Sprintf("unexpected argument %q", fs.Arg(0)))
	}
	fs.Visit(func(f *flag.Flag) {
		name := f.Name
		if name == "buffer" {
			name = "file"
		}
		o.set[name] = true
	})
	return o, nil
}

func argumentError(msg string) error {
	return document.NewError(document.KindArgument, "arguments", fmt.Errorf("%w: %s", document.ErrInvalidArgument, msg))
}

// require fails unless every named flag was given.
func (o *options) require(names ...string) error {
	var missing []string
	for _, name := range names {
		if !o.set[name] {
			missing = append(missing, "--"+name)
		}
	}
	if len(missing) > 0 {
		return argumentError(fmt.Sprintf("%s requires %s", o.command, strings.Join(missing, ", ")))
	}
	return nil
}

// execute loads configuration and logging, then runs the command.
func (o *options) execute(run func(*options) (string, error)) (string, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return "", document.NewError(document.KindArgument, "config", err)
	}
	logger, closer, err := cfg.Logging.NewLogger()
	if err != nil {
		return "", document.NewError(document.KindArgument, "config", err)
	}
	defer closer.Close()

	o.cfg = cfg
	o.logger = logger
	result, err := run(o)
	if err != nil {
		logger.Printf("%s: %v", o.command, err)
	}
	return result, err
}

func (o *options) documentOptions() *document.Options {
	return &document.Options{Logger: o.logger, Config: o.cfg}
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseDate accepts ISO 8601 dates with or without a time and zone.
// Values without a zone are UTC.
func parseDate(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, argumentError(fmt.Sprintf("invalid date %q", value))
}

// decodeBase64 accepts padded and unpadded standard encoding.
func decodeBase64(name, value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(value)
	}
	if err != nil {
		return nil, argumentError(fmt.Sprintf("--%s is not valid base64", name))
	}
	return data, nil
}
