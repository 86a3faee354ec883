package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/mdlble/internal/device"
	"github.com/srg/mdlble/pkg/config"
	"github.com/srg/mdlble/presentment"
)

// sessionOptions describes one device retrieval run from the command line
type sessionOptions struct {
	role    presentment.Role
	option  presentment.Option
	service string
	ident   []byte
	// payload is the request a reader sends once connected, or the response a holder
	// sends to every request
	payload []byte
	format  string
}

// parsePayload accepts hex (spaces and colons ignored) or @file
func parsePayload(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "@") {
		data, err := os.ReadFile(s[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		return data, nil
	}
	clean := strings.NewReplacer(" ", "", ":", "", "\n", "").Replace(s)
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return data, nil
}

// sessionFlags reads the flags shared by holder and reader
func sessionFlags(cmd *cobra.Command, role presentment.Role, cfg *config.Config) (sessionOptions, error) {
	opts := sessionOptions{role: role, format: cfg.OutputFormat}

	optionStr, _ := cmd.Flags().GetString("option")
	if optionStr == "" {
		optionStr = cfg.Option
	}
	option, err := presentment.ParseOption(optionStr)
	if err != nil {
		return opts, err
	}
	opts.option = option

	if format, _ := cmd.Flags().GetString("format"); format != "" {
		opts.format = format
	}
	if opts.format != "text" && opts.format != "json" {
		return opts, fmt.Errorf("invalid format '%s': must be one of [text json]", opts.format)
	}

	if service, _ := cmd.Flags().GetString("service"); service != "" {
		normalized, err := device.ValidateUUID(service)
		if err != nil {
			return opts, fmt.Errorf("invalid service UUID: %w", err)
		}
		opts.service = normalized[0]
	}

	identStr, _ := cmd.Flags().GetString("ident")
	if opts.ident, err = parsePayload(identStr); err != nil {
		return opts, fmt.Errorf("ident: %w", err)
	}
	return opts, nil
}

// runSession runs one exchange until it is terminated, fails or ctx ends
func runSession(ctx context.Context, out io.Writer, adapter device.Adapter, cfg *config.Config,
	logger *logrus.Logger, opts sessionOptions) error {
	printer := newSessionPrinter(out, opts.format)
	tr := presentment.NewTransport(adapter, presentment.Settings{
		AppTag:      cfg.Tag(),
		ScanTimeout: cfg.ScanTimeout,
		Logger:      logger,
		Journal:     presentment.NewJournal(cfg.JournalSize),
	})
	defer func() {
		if err := tr.Close(); err != nil {
			logger.WithError(err).Debug("Close failed")
		}
		for _, e := range tr.Journal().Drain() {
			logger.Debug(e.String())
		}
	}()

	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}

	var requestOnce sync.Once
	delegate := presentment.StateDelegateFunc(func(bag *presentment.StateBag) {
		printer.State(bag)
		switch bag.State() {
		case presentment.StateConnected:
			if opts.role == presentment.Reader && opts.payload != nil {
				requestOnce.Do(func() {
					if err := tr.Send(opts.payload); err != nil {
						finish(err)
					}
				})
			}
		case presentment.StateTerminated, presentment.StateDisconnected:
			finish(nil)
		case presentment.StateFailed:
			finish(fmt.Errorf("%w: %s", ErrSessionFailed, bag.String(presentment.KeyError)))
		}
	})

	onMessage := func(message []byte) {
		printer.Message(message)
		switch {
		case opts.role == presentment.Holder && opts.payload != nil:
			if err := tr.Send(opts.payload); err != nil {
				finish(err)
			}
		case opts.role == presentment.Reader:
			// one request, one response
			go func() {
				if err := tr.Terminate(); err != nil {
					logger.WithError(err).Debug("Terminate failed")
				}
			}()
		}
	}

	session := presentment.Session{
		ID:          uuid.New(),
		Role:        opts.role,
		Method:      presentment.MethodBLE,
		Option:      opts.option,
		ServiceUUID: opts.service,
		Ident:       opts.ident,
	}
	if err := tr.Initialize(ctx, session, onMessage, delegate); err != nil {
		return err
	}
	if opts.service == "" {
		printer.Service(tr.ServiceUUID())
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if err := tr.Terminate(); err != nil {
			logger.WithError(err).Debug("Terminate failed")
		}
		return ctx.Err()
	}
}

// runSessionCommand is the RunE body shared by holder and reader
func runSessionCommand(cmd *cobra.Command, role presentment.Role, payloadFlag string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	opts, err := sessionFlags(cmd, role, cfg)
	if err != nil {
		return err
	}
	payloadStr, _ := cmd.Flags().GetString(payloadFlag)
	if opts.payload, err = parsePayload(payloadStr); err != nil {
		return fmt.Errorf("%s: %w", payloadFlag, err)
	}
	// the central side of either role scans for the peer
	scanning := opts.option == presentment.OptionCentral
	if scanning && opts.service == "" {
		return fmt.Errorf("--service is required when scanning (%s %s)", role, opts.option)
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	adapter, err := newAdapter(logger)
	if err != nil {
		return err
	}
	defer releaseAdapter(adapter, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runSession(ctx, cmd.OutOrStdout(), adapter, cfg, logger, opts)
}

func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("option", "o", "", "Device retrieval option: central or peripheral (default from config)")
	cmd.Flags().StringP("service", "s", "", "mdoc service UUID from device engagement")
	cmd.Flags().String("ident", "", "Ident characteristic value as hex")
	cmd.Flags().StringP("format", "f", "", "Output format (text, json)")
}
