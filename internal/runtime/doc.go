// Package runtime wires configuration into a single relay instance: the event
// log backend, the workflow engine, the upload store, the session registry
// and the publisher. Servers and commands take everything they need from a
// Runtime.
//
// Example:
//
//	cfg := config.Default()
//	cfg.DataDir = "./data"
//	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg})
//	if err != nil {
//		return err
//	}
//	defer rt.Close(ctx)
//	s, err := rt.NewSession(relay.Config{Key: "file:f1", Kind: relay.KindFile, Subjects: []string{"file:f1:analysis"}})
package runtime
