//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/clinic/internal/config"
	"github.com/clinicdesk/clinic/internal/domain/appointment"
	"github.com/clinicdesk/clinic/internal/domain/audit"
	"github.com/clinicdesk/clinic/internal/domain/expense"
	"github.com/clinicdesk/clinic/internal/domain/inventory"
	"github.com/clinicdesk/clinic/internal/domain/patient"
	"github.com/clinicdesk/clinic/internal/domain/reporting"
	"github.com/clinicdesk/clinic/internal/domain/staff"
	"github.com/clinicdesk/clinic/internal/domain/visit"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/internal/platform/notification"
	"github.com/clinicdesk/clinic/internal/platform/outbox"
)

// adminConnStr points at a server where tests may create databases. Each
// test gets its own database next to it.
var adminConnStr string

// TestMain uses CLINIC_TEST_DATABASE_URL when set and otherwise starts a
// container. Without either the suite is skipped.
func TestMain(m *testing.M) {
	if dsn := os.Getenv("CLINIC_TEST_DATABASE_URL"); dsn != "" {
		adminConnStr = dsn
		os.Exit(m.Run())
	}
	if _, err := exec.LookPath("docker"); err != nil {
		fmt.Fprintln(os.Stderr, "no CLINIC_TEST_DATABASE_URL and no docker; skipping integration tests")
		os.Exit(0)
	}

	pg, err := runPostgres(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
		os.Exit(1)
	}
	adminConnStr = pg.dsn
	code := m.Run()
	pg.stop()
	os.Exit(code)
}

// findMigrationsDir locates the migrations directory relative to this file.
func findMigrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// freshDatabase creates an empty database, applies every migration and
// drops it when the test ends.
func freshDatabase(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	admin, err := pgxpool.New(ctx, adminConnStr)
	require.NoError(t, err)
	defer admin.Close()

	name := "clinic_" + strings.ReplaceAll(uuid.New().String()[:8], "-", "")
	_, err = admin.Exec(ctx, "CREATE DATABASE "+name)
	require.NoError(t, err)

	u, err := url.Parse(adminConnStr)
	require.NoError(t, err)
	u.Path = "/" + name
	pool, err := db.NewPool(ctx, u.String(), 5, 1)
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
		admin, err := pgxpool.New(context.Background(), adminConnStr)
		if err != nil {
			t.Logf("warning: reconnect to drop %s: %v", name, err)
			return
		}
		defer admin.Close()
		if _, err := admin.Exec(context.Background(), "DROP DATABASE IF EXISTS "+name+" WITH (FORCE)"); err != nil {
			t.Logf("warning: failed to drop database %s: %v", name, err)
		}
	})

	applied, err := db.NewMigrator(pool, findMigrationsDir()).Up(ctx)
	require.NoError(t, err)
	require.Positive(t, applied)
	return pool
}

// clinic is the fully wired service graph over one database.
type clinic struct {
	pool    *pgxpool.Pool
	loc     *time.Location
	outbox  outbox.Store
	mail    *notification.MockEmailSender
	audit   *audit.Service
	visits  *visit.Service
	stock   *inventory.Service
	patient *patient.Service
	staff   *staff.Service
	expense *expense.Service
	appts   *appointment.Service
	reports *reporting.Service
	board   *reporting.DashboardService
	admin   auth.Principal
}

func testConfig() *config.Config {
	return &config.Config{
		JWTIssuer:        "clinic-test",
		JWTSigningKey:    "integration-signing-key",
		TokenTTL:         time.Hour,
		ClinicTimezone:   "UTC",
		ConsultationFee:  20000,
		LabTestPrice:     15000,
		LabAdvancePolicy: config.LabAdvanceAll,
		PublicBaseURL:    "http://clinic.test",
	}
}

func newClinic(t *testing.T) *clinic {
	t.Helper()
	pool := freshDatabase(t)
	cfg := testConfig()
	loc, err := cfg.Location()
	require.NoError(t, err)
	logger := zerolog.Nop()

	tx := db.NewTxRunner(pool)
	store := outbox.NewStorePG(pool)
	changes := outbox.StoreRecorder{Store: store}
	mail := &notification.MockEmailSender{}

	invRepo := inventory.NewRepo(pool)
	patientRepo := patient.NewRepo(pool)

	c := &clinic{pool: pool, loc: loc, outbox: store, mail: mail}
	c.audit = audit.NewService(audit.NewRepo(pool), changes)
	c.visits = visit.NewService(visit.NewRepo(pool), tx, patientRepo, inventory.NewCatalog(invRepo),
		changes, c.audit, visit.SettingsFromConfig(cfg), logger)
	c.stock = inventory.NewService(invRepo, tx, c.visits, changes, c.audit, loc)
	c.patient = patient.NewService(patientRepo, tx, c.visits, changes)
	issuer := auth.NewIssuer(auth.JWTConfig{Issuer: cfg.JWTIssuer, SigningKey: []byte(cfg.JWTSigningKey), TTL: cfg.TokenTTL})
	notifier := notification.NewNotifier(mail, notification.NewTemplateEngine(), cfg.PublicBaseURL, logger)
	c.staff = staff.NewService(staff.NewRepo(pool), tx, issuer, notifier, changes, c.audit, "", logger)
	c.expense = expense.NewService(expense.NewRepo(pool), tx, changes, c.audit, loc)
	c.appts = appointment.NewService(appointment.NewRepo(pool), tx, patientRepo, changes, loc)
	c.reports = reporting.NewService(c.visits, c.stock, c.expense, c.patient, loc)
	c.board = reporting.NewDashboardService(c.visits, c.patient, c.appts, c.stock, loc)

	u, err := c.staff.BootstrapAdmin(context.Background(), "owner@clinic.test", "s3cret-pass", "Clinic Owner")
	require.NoError(t, err)
	c.admin = u.Principal()
	return c
}

// registerStaff creates a user with the given role through the admin path.
func (c *clinic) registerStaff(t *testing.T, email string, role auth.Role) auth.Principal {
	t.Helper()
	u, err := c.staff.Register(context.Background(), c.admin, staff.RegisterRequest{
		Email:    email,
		Password: "s3cret-pass",
		FullName: strings.Split(email, "@")[0],
		Role:     role,
	})
	require.NoError(t, err)
	return u.Principal()
}

func (c *clinic) registerPatient(t *testing.T, first string, autoForward bool) *patient.Registration {
	t.Helper()
	reg, err := c.patient.Register(context.Background(), c.admin, &patient.Patient{
		FirstName: first,
		LastName:  "Test",
		DOB:       "1990-03-15",
		Gender:    patient.GenderFemale,
	}, autoForward)
	require.NoError(t, err)
	return reg
}

func (c *clinic) addItem(t *testing.T, name string, stock int, price int64) *inventory.Item {
	t.Helper()
	it := &inventory.Item{Name: name, Category: "Tablet", Stock: stock, Unit: "tabs", Price: price, Dosage: "500mg"}
	require.NoError(t, c.stock.Add(context.Background(), c.admin, it))
	return it
}

func today(loc *time.Location) string {
	return time.Now().In(loc).Format("2006-01-02")
}
