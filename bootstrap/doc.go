// Package bootstrap wires configuration, collectors, the detection pipeline
// and the alert sinks into one runnable application.
//
// Usage:
//
//	cfg, err := config.LoadConfig(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	app, err := bootstrap.NewApp(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown()
//
//	report, err := app.RunCycle(ctx)
package bootstrap
