package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sxs-link/internal/config"
	"sxs-link/internal/fakeproxy"
	"sxs-link/internal/protocol"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Serve a local fake proxy for development",
	Long: `Serve a fake side-by-side proxy on one port.

Every contextChanged command is echoed back to connected notification
sockets. Each line typed on stdin is pushed to the sockets as a RIC.`,
	Args: cobra.NoArgs,
	RunE: runMock,
}

func init() {
	mockCmd.Flags().IntP("port", "p", config.DefaultBasePort, "Port to listen on")
	mockCmd.Flags().String("api-key", "", "Only accept this API key (empty accepts any)")
	mockCmd.Flags().String("token", "", "Session token to issue (random if empty)")
	mockCmd.Flags().Bool("no-echo", false, "Do not echo contextChanged back to sockets")
}

func runMock(cmd *cobra.Command, args []string) error {
	if err := setupLogging(cmd); err != nil {
		return err
	}

	port, _ := cmd.Flags().GetInt("port")
	apiKey, _ := cmd.Flags().GetString("api-key")
	token, _ := cmd.Flags().GetString("token")
	noEcho, _ := cmd.Flags().GetBool("no-echo")

	proxy := fakeproxy.New(fakeproxy.Options{
		APIKey: apiKey,
		Token:  token,
		Echo:   !noEcho,
		Port:   port,
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("localhost:%d", port),
		Handler: proxy.Handler(),
	}

	// Graceful shutdown on signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	go pushFromStdin(proxy)

	log.Info().Int("port", port).Str("token", proxy.Token()).Msg("fake proxy running")
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("fake proxy: %w", err)
	}
	return nil
}

func pushFromStdin(proxy *fakeproxy.Server) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		ric := strings.TrimSpace(scanner.Text())
		if ric == "" {
			continue
		}
		n := proxy.PushContext(protocol.NewRICContext(ric))
		log.Info().Str("ric", ric).Int("sockets", n).Msg("pushed context")
	}
}
