package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joshp123/particle/internal/config"
	"github.com/joshp123/particle/internal/oauthflow"
	"github.com/joshp123/particle/plugins/particle"
)

const envPassword = "PARTICLE_PASSWORD"

func login(ctx context.Context, cfg *config.Config, args []string) {
	requireArgs("login", args, 1, "login <username>")
	if cfg.Cloud.BootstrapFile == "" {
		fatal("login", fmt.Errorf("cloud.bootstrap_file must be set to store the refresh token"))
	}
	password, err := readPassword()
	if err != nil {
		fatal("login", err)
	}

	decl := particle.OAuthDeclaration(cfg)
	state, err := oauthflow.PasswordLogin(ctx, decl, args[0], password, nil)
	if err != nil {
		fatal("login", err)
	}
	blob, err := particle.BlobStoreFromConfig(cfg)
	if err != nil {
		fatal("login", err)
	}
	result, err := oauthflow.PersistState(ctx, decl, state, blob, oauthflow.PersistOptions{
		BootstrapPath: cfg.Cloud.BootstrapFile,
	})
	if err != nil {
		fatal("persist token", err)
	}
	fmt.Printf("state: %s\n", result.StatePath)
	fmt.Printf("bootstrap: %s\n", result.BootstrapPath)
	if result.BlobSaved {
		fmt.Println("mirrored to blob store")
	}
}

func readPassword() (string, error) {
	if password := os.Getenv(envPassword); password != "" {
		return password, nil
	}
	fmt.Fprint(os.Stderr, "password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
