package svc

import (
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/redis"

	"evetrade-sync/internal/check"
	"evetrade-sync/internal/config"
	"evetrade-sync/internal/pipeline"
	"evetrade-sync/internal/sink"
	"evetrade-sync/pkg/esi"
	"evetrade-sync/pkg/universe"
)

// ServiceContext wires the configured dependencies for one process: the
// market API client, the resource catalog, both sinks, and the components
// built on top of them.
type ServiceContext struct {
	Config *config.Config

	ESIClient *esi.Client
	Catalog   *universe.Catalog
	Cache     sink.Cache
	Index     sink.Index

	Pipeline *pipeline.Pipeline
	Checker  *check.Checker
}

func NewServiceContext(c *config.Config) (*ServiceContext, error) {
	if err := c.ValidateSinks(); err != nil {
		return nil, err
	}

	store, err := redis.NewRedis(c.Redis)
	if err != nil {
		return nil, fmt.Errorf("svc: connect redis: %w", err)
	}
	cache := sink.NewRedisCache(store, time.Duration(c.Sync.RecordTTL)*time.Second)

	index, err := sink.NewElasticIndex(c.Elastic)
	if err != nil {
		return nil, fmt.Errorf("svc: build elastic client: %w", err)
	}

	client := esi.NewClientFromConfig(c.ESI.Value)
	catalog := universe.NewCatalog(c.Universe)

	svc := &ServiceContext{
		Config:    c,
		ESIClient: client,
		Catalog:   catalog,
		Cache:     cache,
		Index:     index,
		Checker:   check.New(index),
	}
	svc.Pipeline = pipeline.New(client, catalog, cache, index, pipeline.Options{
		RegionConcurrency:    c.Sync.RegionConcurrency,
		StructureConcurrency: c.Sync.StructureConcurrency,
		IncludeStructures:    c.Sync.IncludeStructures,
	})
	return svc, nil
}

// CheckThreshold returns the configured staleness ceiling.
func (s *ServiceContext) CheckThreshold() time.Duration {
	return time.Duration(s.Config.Check.ThresholdSeconds) * time.Second
}
