package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"phishguard/internal/database"
	"phishguard/internal/models"
)

// HistoryService queries stored detection verdicts. Records only ever carry
// fingerprint prefixes, so nothing here can leak a browsed URL.
type HistoryService struct {
	db *mongo.Database
}

// HistoryFilter represents filtering options for verdict history queries.
type HistoryFilter struct {
	DateFrom    *time.Time `json:"dateFrom,omitempty"`
	DateTo      *time.Time `json:"dateTo,omitempty"`
	OnlyThreats bool       `json:"onlyThreats"`
	Method      string     `json:"method,omitempty"`
	Prefix      string     `json:"prefix,omitempty"`
	Limit       int        `json:"limit"`
	Offset      int        `json:"offset"`
	SortOrder   string     `json:"sortOrder"`
}

// HistoryStats summarizes the stored verdicts.
type HistoryStats struct {
	TotalDetections int       `json:"totalDetections"`
	ThreatsDetected int       `json:"threatsDetected"`
	LegitimateURLs  int       `json:"legitimateUrls"`
	ReputationHits  int       `json:"reputationHits"`
	UniquePrefixes  int       `json:"uniquePrefixes"`
	FirstDetection  time.Time `json:"firstDetection"`
	LastDetection   time.Time `json:"lastDetection"`
	AvgConfidence   float64   `json:"avgConfidence"`
	TopReasons      []string  `json:"topReasons"`
}

// HistoryResponse is a paginated history page.
type HistoryResponse struct {
	Verdicts   []models.VerdictRecord `json:"verdicts"`
	Total      int64                  `json:"total"`
	Page       int                    `json:"page"`
	PerPage    int                    `json:"perPage"`
	TotalPages int                    `json:"totalPages"`
	HasNext    bool                   `json:"hasNext"`
	HasPrev    bool                   `json:"hasPrev"`
}

func NewHistoryService(db *mongo.Database) *HistoryService {
	return &HistoryService{db: db}
}

// GetHistory retrieves verdict history with filtering and pagination.
func (h *HistoryService) GetHistory(ctx context.Context, filter HistoryFilter) (*HistoryResponse, error) {
	collection := h.db.Collection(database.VerdictsCollection)

	mongoFilter := bson.M{}
	if filter.DateFrom != nil || filter.DateTo != nil {
		dateFilter := bson.M{}
		if filter.DateFrom != nil {
			dateFilter["$gte"] = *filter.DateFrom
		}
		if filter.DateTo != nil {
			dateFilter["$lte"] = *filter.DateTo
		}
		mongoFilter["createdAt"] = dateFilter
	}
	if filter.OnlyThreats {
		mongoFilter["label"] = models.LabelPhishing
	}
	if filter.Method != "" {
		mongoFilter["method"] = filter.Method
	}
	if filter.Prefix != "" {
		mongoFilter["prefix"] = filter.Prefix
	}

	total, err := collection.CountDocuments(ctx, mongoFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to count verdicts: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	page := (offset / limit) + 1
	totalPages := int((total + int64(limit) - 1) / int64(limit))

	sortOrder := -1
	if filter.SortOrder == "asc" {
		sortOrder = 1
	}

	opts := options.Find()
	opts.SetSort(bson.D{{Key: "createdAt", Value: sortOrder}})
	opts.SetSkip(int64(offset))
	opts.SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, mongoFilter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find verdicts: %w", err)
	}
	defer cursor.Close(ctx)

	var verdicts []models.VerdictRecord
	if err = cursor.All(ctx, &verdicts); err != nil {
		return nil, fmt.Errorf("failed to decode verdicts: %w", err)
	}

	return &HistoryResponse{
		Verdicts:   verdicts,
		Total:      total,
		Page:       page,
		PerPage:    limit,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}, nil
}

// GetStats aggregates counters over the whole verdict history.
func (h *HistoryService) GetStats(ctx context.Context) (*HistoryStats, error) {
	collection := h.db.Collection(database.VerdictsCollection)

	total, err := collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to count verdicts: %w", err)
	}
	if total == 0 {
		return &HistoryStats{}, nil
	}

	threats, err := collection.CountDocuments(ctx, bson.M{"label": models.LabelPhishing})
	if err != nil {
		return nil, fmt.Errorf("failed to count threats: %w", err)
	}

	repHits, err := collection.CountDocuments(ctx, bson.M{
		"label": models.LabelPhishing, "method": models.MethodReputation,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count reputation hits: %w", err)
	}

	uniquePipeline := []bson.M{
		{"$group": bson.M{"_id": "$prefix"}},
		{"$count": "uniquePrefixes"},
	}
	var uniqueResult []bson.M
	cursor, err := collection.Aggregate(ctx, uniquePipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate unique prefixes: %w", err)
	}
	if err = cursor.All(ctx, &uniqueResult); err != nil {
		return nil, fmt.Errorf("failed to decode unique prefixes: %w", err)
	}
	uniquePrefixes := 0
	if len(uniqueResult) > 0 {
		uniquePrefixes = int(uniqueResult[0]["uniquePrefixes"].(int32))
	}

	statsPipeline := []bson.M{
		{"$group": bson.M{
			"_id":           nil,
			"avgConfidence": bson.M{"$avg": "$confidence"},
			"minDate":       bson.M{"$min": "$createdAt"},
			"maxDate":       bson.M{"$max": "$createdAt"},
			"allReasons":    bson.M{"$push": "$reasons"},
		}},
	}
	var statsResult []bson.M
	cursor, err = collection.Aggregate(ctx, statsPipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	if err = cursor.All(ctx, &statsResult); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}

	stats := &HistoryStats{
		TotalDetections: int(total),
		ThreatsDetected: int(threats),
		LegitimateURLs:  int(total - threats),
		ReputationHits:  int(repHits),
		UniquePrefixes:  uniquePrefixes,
	}

	if len(statsResult) > 0 {
		result := statsResult[0]
		if avg, ok := result["avgConfidence"].(float64); ok {
			stats.AvgConfidence = avg
		}
		if minDate, ok := result["minDate"].(primitive.DateTime); ok {
			stats.FirstDetection = minDate.Time()
		}
		if maxDate, ok := result["maxDate"].(primitive.DateTime); ok {
			stats.LastDetection = maxDate.Time()
		}
		stats.TopReasons = topReasons(result["allReasons"], 5)
	}

	return stats, nil
}

// topReasons counts reason strings across all verdicts and returns the n
// most frequent.
func topReasons(raw any, n int) []string {
	counts := make(map[string]int)
	if all, ok := raw.(primitive.A); ok {
		for _, perVerdict := range all {
			if reasonList, ok := perVerdict.(primitive.A); ok {
				for _, r := range reasonList {
					if reason, ok := r.(string); ok && reason != "" {
						counts[reason]++
					}
				}
			}
		}
	}

	type reasonCount struct {
		reason string
		count  int
	}
	var sorted []reasonCount
	for reason, count := range counts {
		sorted = append(sorted, reasonCount{reason, count})
	}
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].count > sorted[i].count {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}

	var out []string
	for i, rc := range sorted {
		if i >= n {
			break
		}
		out = append(out, rc.reason)
	}
	return out
}
