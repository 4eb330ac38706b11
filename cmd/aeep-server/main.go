// AEEP - Agent-to-Agent Economic Exchange Protocol
// Copyright (C) 2025 X811-project
//
// This file is part of AEEP.
//
// AEEP is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// AEEP is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with AEEP. If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/x811-project/aeep/internal/config"
	"github.com/x811-project/aeep/pkg/core/did"
	"github.com/x811-project/aeep/pkg/core/envelope"
	"github.com/x811-project/aeep/pkg/core/keys"
	"github.com/x811-project/aeep/pkg/server/auth"
	"github.com/x811-project/aeep/pkg/server/batch"
	"github.com/x811-project/aeep/pkg/server/httpapi"
	"github.com/x811-project/aeep/pkg/server/negotiation"
	"github.com/x811-project/aeep/pkg/server/registry"
	"github.com/x811-project/aeep/pkg/server/relayer"
	"github.com/x811-project/aeep/pkg/server/router"
	"github.com/x811-project/aeep/pkg/server/store"
	"github.com/x811-project/aeep/pkg/server/store/postgres"
	"github.com/x811-project/aeep/pkg/server/trust"
)

// version is stamped by the release build via -ldflags.
var version = "dev"

const (
	nonceGCInterval      = time.Hour
	messageSweepInterval = time.Minute
	availabilityInterval = time.Minute
	shutdownGraceTimeout = 10 * time.Second
)

func main() {
	root := &cobra.Command{
		Use:   "aeep-server",
		Short: "AEEP negotiation, registry and anchoring server",
	}
	root.AddCommand(serveCmd(), versionCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "aeep-server %s (protocol %s)\n", version, envelope.Version)
		},
	}
}

func serveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the AEEP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	rel, err := buildRelayer(ctx, cfg)
	if err != nil {
		return err
	}

	trustSvc := trust.NewService(st)
	reg := registry.New(st)
	verifier := auth.NewVerifier(st)
	rt := router.New(st)
	batches := batch.New(st, rel).
		WithThresholds(cfg.Batching.SizeThreshold, cfg.Batching.TimeThreshold)
	engine := negotiation.New(st, trustSvc, batches)

	serverDID, serverDoc, err := serverIdentity(cfg)
	if err != nil {
		return err
	}

	api := httpapi.New(httpapi.Config{
		Store:     st,
		Registry:  reg,
		Verifier:  verifier,
		Router:    rt,
		Engine:    engine,
		Batches:   batches,
		Relayer:   rel,
		Version:   version,
		ServerDID: serverDID,
		ServerDoc: serverDoc,
	})

	go engine.RunSweeper(ctx, negotiation.SweepInterval)
	go batches.Run(ctx)
	go runEvery(ctx, messageSweepInterval, func(ctx context.Context) error {
		_, err := rt.SweepExpired(ctx)
		return err
	})
	go runEvery(ctx, availabilityInterval, func(ctx context.Context) error {
		_, err := reg.ExpireStaleAvailability(ctx)
		return err
	})
	go runEvery(ctx, nonceGCInterval, func(ctx context.Context) error {
		_, err := st.DeleteExpiredNonces(ctx, time.Now().UTC())
		return err
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("aeep-server %s listening on %s (did %s)", version, cfg.ListenAddr, serverDID)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGraceTimeout)
		defer cancel()
		// Pending hashes anchor before exit so no verified interaction is
		// left unprovable.
		batches.Flush(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Printf("using in-memory store")
		return store.NewMemory(), func() {}, nil
	}
	pg, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func buildRelayer(ctx context.Context, cfg *config.Config) (relayer.Relayer, error) {
	if cfg.Relayer.Mock {
		log.Printf("using mock relayer")
		return relayer.NewMock(), nil
	}
	return relayer.NewEth(ctx, cfg.Relayer.RPCURL, cfg.Relayer.Contract,
		cfg.Relayer.PrivateKey, big.NewInt(cfg.Relayer.ChainID))
}

// serverIdentity derives the server's own DID and document. A configured
// seed keeps the DID stable across restarts; without one the identity is
// ephemeral.
func serverIdentity(cfg *config.Config) (string, json.RawMessage, error) {
	var edPub ed25519.PublicKey
	if cfg.ServerKeySeed != "" {
		seed, err := hex.DecodeString(cfg.ServerKeySeed)
		if err != nil || len(seed) != ed25519.SeedSize {
			return "", nil, fmt.Errorf("server_key_seed must be %d hex-encoded bytes", ed25519.SeedSize)
		}
		edPub = ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	} else {
		pub, _, err := keys.GenerateEd25519KeyPair()
		if err != nil {
			return "", nil, err
		}
		edPub = pub
	}
	xPub, _, err := keys.GenerateX25519KeyPair()
	if err != nil {
		return "", nil, err
	}

	serverDID := "did:aeep:" + cfg.ServerName
	doc, err := json.Marshal(did.NewDocument(serverDID, edPub, xPub))
	if err != nil {
		return "", nil, err
	}
	return serverDID, doc, nil
}

// runEvery drives a periodic maintenance task until ctx is cancelled.
func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				log.Printf("maintenance task: %v", err)
			}
		}
	}
}
