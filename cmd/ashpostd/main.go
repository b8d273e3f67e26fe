// Command ashpostd is the self-hosted mail stack's entry point: it parses
// an ashpost.conf directive file (see package config) and starts the
// inbound SMTP listener and the two IMAP listeners (STARTTLS and implicit
// TLS) against a shared mailbox store and auth provider.
//
// It is a single urfave/cli/v2 App with a "run" subcommand taking a
// config-path flag, plus a "gen-cert" convenience subcommand for getting a
// runnable stack without external tooling. This file stays thin: parse,
// wire, serve.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/ashpost/ashpost/auth"
	"github.com/ashpost/ashpost/config"
	"github.com/ashpost/ashpost/dns"
	"github.com/ashpost/ashpost/imap"
	"github.com/ashpost/ashpost/log"
	"github.com/ashpost/ashpost/mailbox"
	"github.com/ashpost/ashpost/smtp"
	"github.com/ashpost/ashpost/tlsutil"
)

func main() {
	app := &cli.App{
		Name:  "ashpostd",
		Usage: "self-hosted SMTP+IMAP mail stack",
		Commands: []*cli.Command{
			runCommand(),
			genCertCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.DefaultLogger.Error("ashpostd failed", err)
		os.Exit(1)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "parse a config file and serve SMTP+IMAP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "ashpost.conf", Usage: "path to the directive config file"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug-level logging"},
		},
		Action: func(c *cli.Context) error {
			log.SetDebug(c.Bool("debug"))

			f, err := os.Open(c.String("config"))
			if err != nil {
				return fmt.Errorf("ashpostd: %w", err)
			}
			defer f.Close()

			nodes, err := config.Read(f, c.String("config"))
			if err != nil {
				return fmt.Errorf("ashpostd: %w", err)
			}

			cfg, err := parseConfig(nodes)
			if err != nil {
				return fmt.Errorf("ashpostd: %w", err)
			}

			return runServers(cfg)
		},
	}
}

func genCertCommand() *cli.Command {
	return &cli.Command{
		Name:      "gen-cert",
		Usage:     "generate a self-signed TLS certificate for local testing",
		ArgsUsage: "hostname [hostname...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "cert", Value: "ashpost.crt"},
			&cli.StringFlag{Name: "key", Value: "ashpost.key"},
		},
		Action: func(c *cli.Context) error {
			names := c.Args().Slice()
			if len(names) == 0 {
				names = []string{"localhost"}
			}

			cert, err := tlsutil.SelfSigned(names)
			if err != nil {
				return err
			}
			if err := tlsutil.WritePEM(cert, c.String("cert"), c.String("key")); err != nil {
				return err
			}
			fmt.Printf("wrote %s and %s for %v\n", c.String("cert"), c.String("key"), names)
			return nil
		},
	}
}

// stackConfig is the bound result of parsing ashpost.conf.
type stackConfig struct {
	hostname   string
	certPath   string
	keyPath    string
	storageDir string
	smtpAddr   string
	imapAddr   string
	imapsAddr  string
	dohServer  string
	users      map[string]string
}

func parseConfig(nodes []config.Node) (*stackConfig, error) {
	cfg := &stackConfig{
		smtpAddr:  ":2525",
		imapAddr:  ":1143",
		imapsAddr: ":1993",
		users:     make(map[string]string),
	}

	root := config.Node{Children: nodes}
	m := config.NewMap(&root)
	m.String("hostname", true, "", &cfg.hostname)
	m.String("storage", true, "", &cfg.storageDir)
	m.String("smtp", false, cfg.smtpAddr, &cfg.smtpAddr)
	m.String("imap", false, cfg.imapAddr, &cfg.imapAddr)
	m.String("imaps", false, cfg.imapsAddr, &cfg.imapsAddr)
	m.String("doh", false, "", &cfg.dohServer)
	m.Custom("tls", true, func(_ *config.Map, n *config.Node) error {
		if len(n.Args) != 2 {
			return config.NodeErr(n, "tls: expected cert and key paths")
		}
		cfg.certPath, cfg.keyPath = n.Args[0], n.Args[1]
		return nil
	})
	m.Custom("user", false, func(_ *config.Map, n *config.Node) error {
		if len(n.Args) != 2 {
			return config.NodeErr(n, "user: expected address and password")
		}
		cfg.users[n.Args[0]] = n.Args[1]
		return nil
	})

	if _, err := m.Process(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServers(cfg *stackConfig) error {
	authProvider := auth.NewStatic()
	for addr, pass := range cfg.users {
		if err := authProvider.AddUser(addr, pass, 0); err != nil {
			return err
		}
	}

	store := mailbox.New(authProvider, mailbox.NewFilesystem(cfg.storageDir))

	tlsConfig, err := tlsutil.LoadServer(cfg.certPath, cfg.keyPath)
	if err != nil {
		return err
	}

	var resolver dns.Resolver
	if cfg.dohServer != "" {
		resolver = dns.NewDoHResolver(cfg.dohServer)
	} else {
		resolver = dns.NewSimpleResolver()
	}

	deliveryClient := smtp.NewClient(cfg.hostname, resolver)

	smtpServer := &smtp.Server{
		Hostname:  cfg.hostname,
		TLSConfig: tlsConfig,
		Auth:      authProvider,
		Mailbox:   store,
		Delivery:  deliveryClient,
		Log:       log.Logger{Name: "smtp"},
	}
	imapServer := &imap.Server{
		Hostname:  cfg.hostname,
		TLSConfig: tlsConfig,
		Auth:      authProvider,
		Mailbox:   store,
		Log:       log.Logger{Name: "imap"},
	}

	errCh := make(chan error, 2)
	go func() { errCh <- smtpServer.ListenAndServe(cfg.smtpAddr) }()
	go func() { errCh <- imapServer.ListenAndServe(cfg.imapAddr, cfg.imapsAddr) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		smtpServer.Close()
		imapServer.Close()
		return nil
	}
}
