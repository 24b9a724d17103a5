package main

import (
	"context"
	"fmt"
	"net/http/httptest"

	"branchline/internal/config"
	"branchline/internal/db"
	"branchline/internal/engine"
	"branchline/internal/migrate"
	"branchline/internal/server"
	branchlinesdk "branchline/sdk/go"
)

// Manual smoke check: drive the API through the SDK client and print the
// derived project status.
func main() {
	workspace := "/tmp/branchline-check"
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		panic(err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		panic(err)
	}
	e := engine.New(conn, config.Default(), nil)
	h, err := server.New(server.Config{Engine: e, BasePath: "/v1", Auth: server.AuthConfig{AllowActorHeader: true}})
	if err != nil {
		panic(err)
	}
	ts := httptest.NewServer(h)
	defer ts.Close()

	ctx := context.Background()
	client := branchlinesdk.New(ts.URL)
	client.ActorID = "checker"

	p, err := client.CreateProject(ctx, "Smoke check", "client-x", []string{"checker"})
	if err != nil {
		panic(err)
	}
	t, err := client.CreateTask(ctx, p.ID, "only task")
	if err != nil {
		panic(err)
	}
	for _, s := range []string{"in-progress", "done"} {
		if t, err = client.SetTaskStatus(ctx, t.ID, s); err != nil {
			panic(err)
		}
	}
	status, err := client.Status(ctx, p.ID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("project=%s status=%s progress=%d counts=%v\n", status.ProjectID, status.Status, status.Progress, status.TaskCounts)
}
