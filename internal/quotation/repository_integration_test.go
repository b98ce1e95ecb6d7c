//go:build integration

package quotation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/odyssey-erp/odyssey-rfq/internal/platform/db"
	"github.com/odyssey-erp/odyssey-rfq/internal/shared"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "odyssey",
			"POSTGRES_PASSWORD": "odyssey",
			"POSTGRES_DB":       "odyssey_rfq",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://odyssey:odyssey@%s:%s/odyssey_rfq?sslmode=disable", host, port.Port())
}

func newPostgresService(t *testing.T) (*Service, Repository) {
	t.Helper()
	dsn := startPostgres(t)
	require.NoError(t, db.Migrate(dsn, nil))

	pool, err := db.New(context.Background(), dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := NewRepository(pool)
	svc := NewService(ServiceParams{
		Repo:     repo,
		Numbers:  &seqNumbers{},
		Vendor:   VendorProfile{CompanyName: "Odyssey Trading Co."},
		Currency: "INR",
	})
	return svc, repo
}

func TestPostgresRepositoryLifecycle(t *testing.T) {
	svc, repo := newPostgresService(t)
	ctx := context.Background()

	res, err := svc.Create(ctx, buyer, CreateQuotationRequest{
		Buyer:     BuyerInfo{Name: "Asha Rao", Email: "asha@example.com"},
		LineItems: sampleItems(),
	}, "")
	require.NoError(t, err)

	stored, err := repo.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Equal(t, int64(1), stored.Stamp)
	assert.InDelta(t, 236.0, stored.FinancialSummary.GrandTotal, 0.001)
	require.Len(t, stored.LineItems, 1)

	amount := 230.0
	quoted, err := svc.Apply(ctx, admin, res.ID, Quote{TotalAmount: &amount})
	require.NoError(t, err)
	require.NotNil(t, quoted.AdminResponse)

	stale := *stored
	stale.Notes = "lost update"
	err = repo.Save(ctx, &stale)
	assert.ErrorIs(t, err, shared.ErrConflict)

	rev, err := svc.CreateRevision(ctx, buyer, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rev.Version)

	latest, err := repo.GetLatestByNumber(ctx, res.QuotationNumber)
	require.NoError(t, err)
	assert.Equal(t, rev.RevisionID, latest.ID)

	dup, err := cloneQuotation(latest)
	require.NoError(t, err)
	dup.ID = uuid.New()
	dup.Version = 3
	err = repo.Insert(ctx, dup)
	assert.ErrorIs(t, err, shared.ErrConflict, "a chain keeps one live row")
}

func TestPostgresMessagesAndReadTracking(t *testing.T) {
	svc, _ := newPostgresService(t)
	ctx := context.Background()

	res, err := svc.Create(ctx, buyer, CreateQuotationRequest{
		Buyer:     BuyerInfo{Name: "Asha Rao", Email: "asha@example.com"},
		LineItems: sampleItems(),
	}, "")
	require.NoError(t, err)

	_, err = svc.PostMessage(ctx, admin, res.ID, PostMessageRequest{Content: "Which finish do you need?"})
	require.NoError(t, err)

	unread, err := svc.UnreadCount(ctx, buyer, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	marked, err := svc.MarkThreadRead(ctx, buyer, res.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)

	msgs, err := svc.ListMessages(ctx, buyer, res.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsReadByUser)
}
