// Package service provides database connection business logic
package service

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/miniflow-io/miniflow/internal/connection/domain/model"
	"github.com/miniflow-io/miniflow/internal/connection/domain/repository"
	"github.com/miniflow-io/miniflow/internal/platform/crypto"
	"github.com/miniflow-io/miniflow/internal/platform/logger"
)

const probeTimeout = 5 * time.Second

// ConnectionService manages database connection descriptors. Passwords
// are encrypted at rest and decrypted on demand.
type ConnectionService struct {
	repo      repository.ConnectionRepository
	encryptor *crypto.Encryptor
	log       logger.Logger
}

// NewConnectionService creates a new connection service
func NewConnectionService(repo repository.ConnectionRepository, encryptor *crypto.Encryptor, log logger.Logger) *ConnectionService {
	return &ConnectionService{
		repo:      repo,
		encryptor: encryptor,
		log:       log,
	}
}

// CreateConnectionInput represents connection creation input
type CreateConnectionInput struct {
	WorkspaceID      string
	Name             string
	Engine           model.Engine
	Host             string
	Port             int
	Username         string
	Password         string
	DatabaseName     string
	SSLEnabled       bool
	AdditionalParams map[string]string
}

// CreateConnection creates a connection with the password encrypted
func (s *ConnectionService) CreateConnection(ctx context.Context, input CreateConnectionInput) (*model.DatabaseConnection, error) {
	conn, err := model.NewDatabaseConnection(
		input.WorkspaceID, input.Name, input.Engine,
		input.Host, input.Port, input.Username, input.Password, input.DatabaseName,
	)
	if err != nil {
		return nil, err
	}
	conn.SSLEnabled = input.SSLEnabled
	if input.AdditionalParams != nil {
		conn.AdditionalParams = input.AdditionalParams
	}

	encrypted, err := s.encryptor.EncryptString(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt connection password: %w", err)
	}
	conn.Password = encrypted

	if err := s.repo.Create(ctx, conn); err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	return conn, nil
}

// GetConnection retrieves a connection by ID; the password stays encrypted
func (s *ConnectionService) GetConnection(ctx context.Context, id string) (*model.DatabaseConnection, error) {
	return s.repo.FindByID(ctx, id)
}

// GetDecrypted retrieves a connection with its password decrypted
func (s *ConnectionService) GetDecrypted(ctx context.Context, id string) (*model.DatabaseConnection, error) {
	conn, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.decryptInto(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// GetDecryptedByIDs bulk-loads connections with passwords decrypted.
// Missing IDs are omitted from the result.
func (s *ConnectionService) GetDecryptedByIDs(ctx context.Context, ids []string) ([]*model.DatabaseConnection, error) {
	connections, err := s.repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, conn := range connections {
		if err := s.decryptInto(conn); err != nil {
			return nil, err
		}
	}

	return connections, nil
}

// ListConnections lists connections for a workspace; passwords stay encrypted
func (s *ConnectionService) ListConnections(ctx context.Context, workspaceID string, offset, limit int) ([]*model.DatabaseConnection, error) {
	return s.repo.ListByWorkspace(ctx, workspaceID, offset, limit)
}

// DeleteConnection soft deletes a connection
func (s *ConnectionService) DeleteConnection(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// Probe opens a live connection with the real driver and pings it.
// Used by the API to verify a descriptor before workflows reference it.
func (s *ConnectionService) Probe(ctx context.Context, id string) error {
	conn, err := s.GetDecrypted(ctx, id)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	switch conn.Engine {
	case model.EnginePostgreSQL:
		return s.probeSQL(ctx, "postgres", conn.ConnectionString())
	case model.EngineMySQL:
		return s.probeSQL(ctx, "mysql", mysqlDSN(conn))
	case model.EngineMongoDB:
		return s.probeMongo(ctx, conn.ConnectionString())
	default:
		return fmt.Errorf("unsupported database engine: %s", conn.Engine)
	}
}

func (s *ConnectionService) probeSQL(ctx context.Context, driver, dsn string) error {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("failed to open %s connection: %w", driver, err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s ping failed: %w", driver, err)
	}
	return nil
}

func (s *ConnectionService) probeMongo(ctx context.Context, uri string) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetConnectTimeout(probeTimeout))
	if err != nil {
		return fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			s.log.Warn("failed to disconnect mongodb probe", "error", err)
		}
	}()

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongodb ping failed: %w", err)
	}
	return nil
}

// mysqlDSN renders the driver-native DSN; the go-sql-driver format is
// not a URI.
func mysqlDSN(conn *model.DatabaseConnection) string {
	cfg := mysqldrv.NewConfig()
	cfg.User = conn.Username
	cfg.Passwd = conn.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(conn.Host, strconv.Itoa(conn.Port))
	cfg.DBName = conn.DatabaseName
	cfg.Timeout = probeTimeout
	if conn.SSLEnabled {
		cfg.TLSConfig = "true"
	}
	if len(conn.AdditionalParams) > 0 {
		cfg.Params = conn.AdditionalParams
	}
	return cfg.FormatDSN()
}

func (s *ConnectionService) decryptInto(conn *model.DatabaseConnection) error {
	plain, err := s.encryptor.DecryptString(conn.Password)
	if err != nil {
		return fmt.Errorf("failed to decrypt password for connection %s: %w", conn.ID, err)
	}
	conn.Password = plain
	return nil
}
