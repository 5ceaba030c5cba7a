package field

import (
	"fmt"

	"github.com/umputun/dbx/pkg/dberr"
	"github.com/umputun/dbx/pkg/fixed"
)

// default shape of fixed point columns declared without precision
const (
	DefaultPrecision = fixed.MaxPrecision
	DefaultDecimals  = 4
)

// Infos describes a result column or a statement parameter: name, type and shape.
// Limit applies to text and binary types only, zero means unlimited.
// Precision and Decimals apply to Fixed only, zero precision means the default shape.
type Infos struct {
	Name      string
	Type      Type
	Limit     int
	Precision int
	Decimals  int
}

// NewInfos makes infos with the default shape for the type.
func NewInfos(name string, t Type) Infos {
	return Infos{Name: name, Type: t}
}

// WithLimit returns a copy with the size limit set.
func (i Infos) WithLimit(limit int) Infos {
	i.Limit = limit
	return i
}

// WithShape returns a copy with precision and decimals set.
func (i Infos) WithShape(precision, decimals int) Infos {
	i.Precision, i.Decimals = precision, decimals
	return i
}

// SetType changes the type and resets the shape, both limit and precision/decimals.
func (i *Infos) SetType(t Type) {
	i.Type = t
	i.Limit, i.Precision, i.Decimals = 0, 0, 0
}

// Shape returns the effective precision and decimals of a fixed point type.
func (i Infos) Shape() (precision, decimals int) {
	if i.Precision == 0 {
		return DefaultPrecision, DefaultDecimals
	}
	return i.Precision, i.Decimals
}

// Validate checks the type is known and the shape fits the type.
func (i Infos) Validate() error {
	if !i.Type.Valid() {
		return fmt.Errorf("%w %d for %q", ErrUndefinedType, int(i.Type), i.Name)
	}
	if i.Limit < 0 {
		return dberr.New(dberr.ErrParameter, "negative limit %d for %q", i.Limit, i.Name)
	}
	if i.Type == Fixed {
		p, d := i.Shape()
		if _, err := fixed.New(p, d); err != nil {
			return fmt.Errorf("%w: invalid shape of %q: %w", dberr.ErrParameter, i.Name, err)
		}
	}
	return nil
}

func (i Infos) String() string {
	switch {
	case i.Type == Fixed:
		p, d := i.Shape()
		return fmt.Sprintf("%s %s(%d,%d)", i.Name, i.Type, p, d)
	case i.Type.HasLimit() && i.Limit > 0:
		return fmt.Sprintf("%s %s(%d)", i.Name, i.Type, i.Limit)
	default:
		return fmt.Sprintf("%s %s", i.Name, i.Type)
	}
}
