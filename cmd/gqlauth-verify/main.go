// Command gqlauth-verify checks a bearer token against an extension
// configuration file, optionally under a directive, and prints the verified
// claims or the failure kind.
//
//	gqlauth-verify -config gqlauth.toml [-directive '{"roles":["admin"]}'] TOKEN
//
// A token of "-" is read from stdin. The exit status is 0 when the token is
// accepted, 1 when it is rejected and 2 on usage or configuration errors.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	gqlAuth "github.com/MrEthical07/gqlAuth"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("gqlauth-verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath  = fs.String("config", "", "settings file (.toml or .json)")
		directive   = fs.String("directive", "", "directive arguments as a JSON object")
		printConfig = fs.Bool("print-config", false, "print the effective settings as TOML and exit")
		timeout     = fs.Duration("timeout", 10*time.Second, "overall deadline")
		verbose     = fs.Bool("v", false, "log key set activity to stderr")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *configPath == "" {
		fmt.Fprintln(stderr, "-config is required")
		return 2
	}

	settings, err := loadSettings(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "load %s: %v\n", *configPath, err)
		return 2
	}
	cfg, err := gqlAuth.NewConfig(settings)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}
	for _, w := range cfg.Lint() {
		fmt.Fprintf(stderr, "warning: %s: %s\n", w.Code, w.Message)
	}
	if *printConfig {
		if err := gqlAuth.EncodeSettingsTOML(stdout, redact(cfg.Settings())); err != nil {
			fmt.Fprintf(stderr, "encode: %v\n", err)
			return 2
		}
		return 0
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "expected exactly one token argument")
		return 2
	}
	raw := fs.Arg(0)
	if raw == "-" {
		raw, err = readToken(stdin)
		if err != nil {
			fmt.Fprintf(stderr, "read token: %v\n", err)
			return 2
		}
	}

	logger := zap.NewNop()
	if *verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			fmt.Fprintf(stderr, "logger: %v\n", err)
			return 2
		}
		defer func() { _ = logger.Sync() }()
	}

	ext, err := gqlAuth.New().WithConfig(cfg).WithLogger(logger).Build()
	if err != nil {
		fmt.Fprintf(stderr, "build: %v\n", err)
		return 2
	}
	defer ext.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	field := gqlAuth.FieldDefinition{TypeName: "Query", FieldName: "verify", Directive: &gqlAuth.Directive{Name: "auth"}}
	if *directive != "" {
		dec := json.NewDecoder(strings.NewReader(*directive))
		dec.UseNumber()
		if err := dec.Decode(&field.Directive.Args); err != nil {
			fmt.Fprintf(stderr, "directive: %v\n", err)
			return 2
		}
	}
	if _, err := ext.Prepare(*field.Directive); err != nil {
		fmt.Fprintf(stderr, "directive: %v\n", err)
		return 2
	}

	res := ext.ResolveField(gqlAuth.WithBearerToken(ctx, raw), field)
	if !res.Allowed {
		body, _ := json.MarshalIndent(res.Error, "", "  ")
		fmt.Fprintln(stdout, string(body))
		return 1
	}

	out := struct {
		Header any `json:"header"`
		Claims any `json:"claims"`
	}{Header: res.Token.Header, Claims: res.Token.Claims}
	body, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "encode claims: %v\n", err)
		return 2
	}
	fmt.Fprintln(stdout, string(body))
	return 0
}

func loadSettings(path string) (gqlAuth.Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return gqlAuth.Settings{}, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return gqlAuth.DecodeSettingsTOML(f)
	case ".json":
		return gqlAuth.DecodeSettingsJSON(f)
	default:
		return gqlAuth.Settings{}, errors.New("unsupported settings format, want .toml or .json")
	}
}

func redact(s gqlAuth.Settings) gqlAuth.Settings {
	for i := range s.StaticKeys {
		if s.StaticKeys[i].Secret != "" {
			s.StaticKeys[i].Secret = "redacted"
		}
		if s.StaticKeys[i].SecretBase64 != "" {
			s.StaticKeys[i].SecretBase64 = "redacted"
		}
	}
	return s
}

func readToken(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("empty token")
	}
	return line, nil
}
