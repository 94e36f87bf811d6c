// Package api serves a local HTTP view of a mesh node: stored SOS messages
// and their responses, known emergency services, peers, and the delivery
// status of outgoing private messages. It can also originate and deactivate
// SOS messages on behalf of a local client.
//
// The server binds to loopback by default. It is a control surface for the
// device owner and is not exposed to the mesh.
//
//	srv, err := api.NewServer(mesh, api.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	go srv.Start(ctx)
package api
