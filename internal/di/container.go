// Package di wires the daemon's services together.
package di

import (
	"errors"
	"sync"
)

// Container manages service registration and lazy resolution.
type Container struct {
	mu       sync.RWMutex
	services map[string]interface{}
	builders map[string]Builder
}

// Builder creates a service instance on first use.
type Builder func(c *Container) (interface{}, error)

// New creates an empty container.
func New() *Container {
	return &Container{
		services: make(map[string]interface{}),
		builders: make(map[string]Builder),
	}
}

// Register registers a ready service instance.
func (c *Container) Register(name string, service interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[name] = service
}

// RegisterBuilder registers a builder for lazy instantiation.
func (c *Container) RegisterBuilder(name string, builder Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.builders[name] = builder
}

// Get retrieves a service by name, building it if needed.
func (c *Container) Get(name string) (interface{}, error) {
	c.mu.RLock()
	service, exists := c.services[name]
	c.mu.RUnlock()

	if exists {
		return service, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Check again in case it was built while waiting for the lock.
	if service, exists := c.services[name]; exists {
		return service, nil
	}

	builder, hasBuilder := c.builders[name]
	if !hasBuilder {
		return nil, errors.New("service not found: " + name)
	}

	service, err := builder(c)
	if err != nil {
		return nil, err
	}

	c.services[name] = service
	return service, nil
}

// Service names for type-safe access.
const (
	ServiceConfig      = "config"
	ServiceLogger      = "logger"
	ServiceGateway     = "ledger.gateway"
	ServiceIndex       = "index"
	ServiceJournal     = "journal"
	ServiceEventHub    = "event.hub"
	ServiceCoordinator = "saga.coordinator"
	ServiceSweeper     = "sweep"
	ServiceRPCServer   = "rpc.server"
)
