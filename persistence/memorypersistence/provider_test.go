package memorypersistence_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	"github.com/procman/procman/persistence"
	"github.com/procman/procman/persistence/internal/providertest"
	. "github.com/procman/procman/persistence/memorypersistence"
)

var _ = Describe("type Provider", func() {
	providertest.Declare(
		func(ctx context.Context) providertest.Out {
			return providertest.Out{
				NewProvider: func() (persistence.Provider, func()) {
					return &Provider{}, nil
				},
			}
		},
		nil,
	)
})
