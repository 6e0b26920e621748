package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/RushikeshBhavsar3605/Bloks-sub000/internal/access"
	"github.com/RushikeshBhavsar3605/Bloks-sub000/internal/coalesce"
	"github.com/RushikeshBhavsar3605/Bloks-sub000/internal/collab"
	"github.com/RushikeshBhavsar3605/Bloks-sub000/internal/protocol"
	"github.com/RushikeshBhavsar3605/Bloks-sub000/internal/rooms"
	"github.com/RushikeshBhavsar3605/Bloks-sub000/internal/server/middleware"
	"github.com/RushikeshBhavsar3605/Bloks-sub000/pkg/config"
	"github.com/RushikeshBhavsar3605/Bloks-sub000/pkg/transport"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

type App struct {
	logger   *slog.Logger
	registry *rooms.Registry
	verifier access.Verifier
	saves    *coalesce.Coalescer
	wg       sync.WaitGroup
	http     *http.Server
	config   *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, verifier access.Verifier, writer coalesce.DocumentWriter) *App {
	registry := rooms.NewRegistry(logger)

	app := &App{
		logger:   logger,
		registry: registry,
		verifier: verifier,
		config:   cfg,
		ctx:      rootCtx,
	}

	// Save status always lands on the acting user's private channel, so the
	// coalescer notifies through the registry rather than a single sender.
	notify := func(userID string, status protocol.SaveStatusPayload) {
		msg, err := protocol.Marshal(protocol.EventSaveStatus, status)
		if err != nil {
			logger.Error("Failed to marshal save status", slog.Any("error", err))
			return
		}
		registry.NotifyUser(userID, msg)
	}
	app.saves = coalesce.New(writer, notify, cfg.Collab.SaveDebounce, logger)

	mux := http.NewServeMux()
	upgradeHandler := http.HandlerFunc(app.upgradeHandler)
	connCounter := middleware.UserConnectionCounter(registry.UserConnectionCount)
	// Create a cycler function that closes over the registry and logger.
	connCycler := func(userID string) {
		id, sender, found := registry.OldestUserConnection(userID)
		if found {
			logger.Info("Cycling connection: closing oldest", "userID", userID, "connID", id)
			if closer, ok := sender.(interface{ Close(error) }); ok {
				closer.Close(errors.New("connection cycled by new connection"))
			}
		}
	}

	mux.Handle("/ws",
		middleware.Chain(upgradeHandler,
			middleware.RequestMetadataMiddleware(),
			middleware.NewAuthMiddleware(logger, app.config.Server.Auth.JWTSecret),
			middleware.NewRequestLogger(app.logger),
			middleware.NewConnectionLimiter(
				logger,
				connCounter,
				connCycler,
				app.config.Server.ConnectionLimit,
			),
		),
	)

	app.http = &http.Server{Addr: app.config.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	// Revoked or expired sessions are turned away after the upgrade so the
	// client receives a structured error frame instead of a bare HTTP status.
	verifyCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	valid, err := a.verifier.VerifySession(verifyCtx, reqMeta.UserID)
	cancel()
	if err != nil {
		connLogger.Error("Session verification failed", slog.Any("error", err))
		a.rejectConnection(r.Context(), wsConn, protocol.CodeInternalError, "session verification failed")
		return
	}
	if !valid {
		connLogger.Warn("Rejecting connection: no active session")
		a.rejectConnection(r.Context(), wsConn, protocol.CodeUnauthorized, "no active session")
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		a.logger,
	)

	if err := a.registry.Register(conn.ID(), reqMeta.UserID, conn); err != nil {
		connLogger.Error("Failed to register connection", slog.Any("error", err))
		conn.Close(err)
		return
	}

	session := collab.NewSession(conn.ID(), reqMeta.UserID, conn, a.registry, a.verifier, a.saves, a.logger)
	conn.SetOnMessageHandler(session.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Tearing down session due to closure", slog.String("connID", id.String()))
		session.Teardown()
	})

	connLogger.Info("User connection fully established")
	conn.Run()
	<-conn.Done()
}

// rejectConnection delivers an error envelope over the fresh socket and
// closes it. The connection never reaches the registry.
func (a *App) rejectConnection(ctx context.Context, wsConn *websocket.Conn, code protocol.ErrorCode, message string) {
	msg, err := protocol.Marshal(protocol.EventError, protocol.ErrorPayload{
		Message: message,
		Code:    code,
	})
	if err == nil {
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = wsConn.Write(writeCtx, websocket.MessageText, msg)
		cancel()
	}
	wsConn.Close(websocket.StatusPolicyViolation, message)
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	a.registry.CloseAll(errors.New("graceful shutdown"))

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()

	// pending saves commit before exit rather than waiting out the window.
	a.saves.FlushAll()
	a.saves.Close()

	a.logger.Info("Server shut down gracefully.")
	return nil
}
