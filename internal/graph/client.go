// Package graph mirrors the complaint link graph into Neo4j so link
// neighborhoods can be explored without recursive relational queries. The
// relational store stays authoritative; mirroring is best-effort.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/civicgrid/case-triage/internal/config"
	"github.com/civicgrid/case-triage/internal/database"
)

// Client wraps the Neo4j driver for link graph operations
type Client struct {
	driver neo4j.DriverWithContext
	config config.Neo4jConfig
	logger *slog.Logger
}

// NewClient creates a new Neo4j client
func NewClient(cfg config.Neo4jConfig, logger *slog.Logger) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(config *neo4j.Config) {
			config.MaxConnectionPoolSize = cfg.MaxConnections
			config.ConnectionAcquisitionTimeout = cfg.ConnectionTimeout
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	client := &Client{
		driver: driver,
		config: cfg,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout)
	defer cancel()

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}

	if err := client.createIndexes(ctx); err != nil {
		logger.Warn("Failed to create Neo4j indexes", "error", err)
	}

	return client, nil
}

// Close closes the Neo4j driver
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.driver.Close(ctx)
}

// MirrorLink upserts both complaint nodes and the directed LINKED
// relationship for a link edge.
func (c *Client) MirrorLink(ctx context.Context, link *database.ComplaintLink) error {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.config.Database,
	})
	defer session.Close(ctx)

	query := `
		MERGE (s:Complaint {id: $source_id})
		MERGE (t:Complaint {id: $target_id})
		MERGE (s)-[r:LINKED {link_type: $link_type}]->(t)
		SET r.link_id = $link_id,
			r.similarity_score = $similarity_score,
			r.created_by_user_type = $created_by_user_type,
			r.created_at = $created_at
		RETURN r.link_id
	`

	var score interface{}
	if link.SimilarityScore != nil {
		score = *link.SimilarityScore
	}

	parameters := map[string]interface{}{
		"source_id":            link.SourceComplaintID,
		"target_id":            link.TargetComplaintID,
		"link_type":            link.LinkType,
		"link_id":              link.ID,
		"similarity_score":     score,
		"created_by_user_type": link.CreatedByUserType,
		"created_at":           link.CreatedAt,
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		result, err := tx.Run(ctx, query, parameters)
		if err != nil {
			return nil, err
		}

		if result.Next(ctx) {
			return result.Record().Values[0], nil
		}

		return nil, fmt.Errorf("failed to mirror link")
	})

	if err != nil {
		return fmt.Errorf("failed to mirror link in Neo4j: %w", err)
	}

	c.logger.Debug("Link mirrored to graph",
		"link_id", link.ID,
		"source_complaint_id", link.SourceComplaintID,
		"target_complaint_id", link.TargetComplaintID)

	return nil
}

// RemoveLink deletes the relationship between two complaints, matching
// either direction.
func (c *Client) RemoveLink(ctx context.Context, sourceComplaintID, targetComplaintID int) error {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.config.Database,
	})
	defer session.Close(ctx)

	query := `
		MATCH (s:Complaint {id: $source_id})-[r:LINKED]-(t:Complaint {id: $target_id})
		DELETE r
	`

	parameters := map[string]interface{}{
		"source_id": sourceComplaintID,
		"target_id": targetComplaintID,
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return tx.Run(ctx, query, parameters)
	})

	if err != nil {
		return fmt.Errorf("failed to remove link from Neo4j: %w", err)
	}

	return nil
}

// LinkedNeighborhood returns the IDs of complaints reachable from the given
// complaint within maxDepth LINKED hops.
func (c *Client) LinkedNeighborhood(ctx context.Context, complaintID, maxDepth int) ([]int, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.config.Database,
	})
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		MATCH (s:Complaint {id: $id})-[:LINKED*1..%d]-(n:Complaint)
		RETURN DISTINCT n.id
	`, maxDepth)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		records, err := tx.Run(ctx, query, map[string]interface{}{"id": complaintID})
		if err != nil {
			return nil, err
		}

		var ids []int
		for records.Next(ctx) {
			if id, ok := records.Record().Values[0].(int64); ok {
				ids = append(ids, int(id))
			}
		}

		return ids, records.Err()
	})

	if err != nil {
		return nil, fmt.Errorf("failed to query linked neighborhood: %w", err)
	}

	return result.([]int), nil
}

func (c *Client) createIndexes(ctx context.Context) error {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.config.Database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return tx.Run(ctx,
			`CREATE CONSTRAINT complaint_id IF NOT EXISTS
			 FOR (c:Complaint) REQUIRE c.id IS UNIQUE`, nil)
	})

	return err
}
