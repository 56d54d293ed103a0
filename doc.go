/*
Package isokit provisions an isolated, repeatable PostgreSQL database state
for each test in a suite, avoiding full database recreation between tests
while guaranteeing no data leaks across test boundaries.

An Engine owns one test database (on an embedded server it boots itself, or
on an externally managed one) and drives three phases:

  - Setup fingerprints the declared schema and rebuilds the backing store
    only when the schema actually changed since the last run; migrations are
    applied with a single recreate-and-retry recovery.
  - Enter/Exit bracket each test with an isolated session, either inside a
    rolled-back transaction (savepoint mode) or with physical truncation and
    identity restart afterwards (truncate mode). A test may switch modes
    midway.
  - Teardown releases the shared handle and every acquired resource.

Example usage:

	func TestUsers(t *testing.T) {
		ctx := context.Background()
		engine, err := isokit.New(t, config.DefaultConfig(),
			config.WithScriptMigrations("migrations"))
		if err != nil {
			t.Fatalf("Failed to create engine: %v", err)
		}
		// Teardown is registered with t.Cleanup automatically.

		err = engine.Setup(ctx, schema.Schema{
			"users": {
				"id":    {Type: "bigint", NotNull: true, PrimaryKey: true},
				"email": {Type: "text", NotNull: true},
			},
		})
		if err != nil {
			t.Fatalf("Setup failed: %v", err)
		}

		sess, err := engine.Enter(ctx, t)
		if err != nil {
			t.Fatalf("Enter failed: %v", err)
		}
		_, err = sess.Querier().Exec(ctx,
			"INSERT INTO users (id, email) VALUES (1, 'ann@x')")
		// ... assertions; everything is rolled back on Exit.
	}
*/
package isokit
