package cli

import "context"

// runDaemon brings the engine online and keeps it running until the
// context is canceled (normally by SIGINT/SIGTERM in main).
func (a *App) runDaemon(ctx context.Context) error {
	if err := a.engine.Start(ctx); err != nil {
		return err
	}
	a.log.Info(ctx, "sync client started", "database", a.config.DatabasePath)

	<-ctx.Done()

	a.log.Info(context.Background(), "shutting down")
	a.engine.Stop()
	return nil
}
