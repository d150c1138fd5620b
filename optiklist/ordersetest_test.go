package optiklist

import (
	"testing"

	orderedset "github.com/gaarutyunov/orderedset-go"
	"github.com/gaarutyunov/orderedset-go/internal/ordersetest"
)

func TestOrderedSetProperties(t *testing.T) {
	ordersetest.Run(t, func() orderedset.OrderedSet { return New() })
}
