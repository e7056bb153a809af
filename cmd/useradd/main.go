// Command useradd creates a confirmed account directly in the database.
//
//	useradd -config config.yaml -user alice -email alice@example.com [-admin]
//
// The password is read from the terminal without echo, or from the first
// line of stdin when stdin is not a terminal.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"autoblog/internal/auth"
	"autoblog/internal/config"
	"autoblog/internal/db"
	"autoblog/internal/email"
	"autoblog/internal/identity"
)

var readPassword = term.ReadPassword

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	configPath := flag.String("config", "config.yaml", "path to config file")
	userName := flag.String("user", "", "user name")
	emailAddr := flag.String("email", "", "email address")
	admin := flag.Bool("admin", false, "grant the admin role")
	flag.Parse()

	if *userName == "" || *emailAddr == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*configPath, *userName, *emailAddr, *admin); err != nil {
		fmt.Fprintln(os.Stderr, "useradd:", err)
		os.Exit(1)
	}
}

func run(configPath, userName, emailAddr string, admin bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	password, err := promptPassword(os.Stdin, os.Stderr)
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}

	database, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer database.Close()

	tokens := auth.NewRegistry(auth.RegistryConfig{
		Secret:            []byte(cfg.Auth.Secret),
		PasswordlessTTL:   cfg.Auth.PasswordlessTTL,
		DataProtectionTTL: cfg.Auth.TokenTTL,
	})
	// Confirmed accounts get no confirmation mail; the log transport is a
	// stand-in that never dials out.
	mailer := email.NewService(email.NewLogTransport(slog.Default()), cfg.Email.AppName, cfg.Email.Timeout)
	manager := identity.NewManager(db.NewUserRepository(database), tokens, auth.NewPasswordHasher(), mailer, identity.ManagerOptions{}, slog.Default())

	user, err := manager.CreateConfirmed(context.Background(), identity.Registration{
		UserName: userName,
		Email:    emailAddr,
		Password: password,
	}, admin)
	if err != nil {
		var policyErr *identity.PolicyError
		if errors.As(err, &policyErr) {
			return fmt.Errorf("%s rejected: %s", policyErr.Field, strings.Join(policyErr.Problems, " "))
		}
		return err
	}

	fmt.Printf("created user %s (%s)\n", user.UserName, user.ID)
	return nil
}

func promptPassword(in *os.File, out io.Writer) (string, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(out, "Password: ")
	first, err := readPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	fmt.Fprint(out, "Repeat password: ")
	second, err := readPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
