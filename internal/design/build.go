package design

import (
	"context"
	"errors"
	"fmt"

	"pathsim/internal/model"
)

type Options struct {
	Seed   int64
	Starts int
	RMSE   float64
	Alpha  float64
}

// Build asks optimizer for libsize points over the non-degenerate factors of
// space and checks the returned matrix against the space.
func Build(ctx context.Context, space *Space, libsize int, optimizer Optimizer, opts Options) (model.DesignMatrix, model.Diagnostics, error) {
	if space == nil {
		return model.DesignMatrix{}, model.Diagnostics{}, fmt.Errorf("space is required")
	}
	if optimizer == nil {
		return model.DesignMatrix{}, model.Diagnostics{}, fmt.Errorf("optimizer is required")
	}
	if libsize <= 0 {
		return model.DesignMatrix{}, model.Diagnostics{}, fmt.Errorf("%w: libsize must be > 0", ErrDesignInfeasible)
	}

	factors := space.Factors()
	result, err := optimizer.Optimize(ctx, Request{
		Factors: factors,
		Size:    libsize,
		Seed:    opts.Seed,
		Starts:  opts.Starts,
		RMSE:    opts.RMSE,
		Alpha:   opts.Alpha,
	})
	if err != nil {
		if errors.Is(err, ErrDesignInfeasible) {
			return model.DesignMatrix{}, model.Diagnostics{}, err
		}
		return model.DesignMatrix{}, model.Diagnostics{}, fmt.Errorf("optimize design: %w", err)
	}

	if len(result.Rows) != libsize {
		return model.DesignMatrix{}, model.Diagnostics{}, fmt.Errorf("optimizer returned %d rows, want %d", len(result.Rows), libsize)
	}
	rows := make([]model.DesignPoint, len(result.Rows))
	for i, row := range result.Rows {
		if len(row) != len(factors) {
			return model.DesignMatrix{}, model.Diagnostics{}, fmt.Errorf("row %d has %d levels, want %d", i, len(row), len(factors))
		}
		for j, level := range row {
			if level < 0 || level >= factors[j].Levels {
				return model.DesignMatrix{}, model.Diagnostics{}, fmt.Errorf("row %d: level %d out of range for %s", i, level, factors[j].Name)
			}
		}
		rows[i] = row.Clone()
	}

	diag := result.Diagnostics
	if diag.SpaceSize == 0 {
		diag.SpaceSize = space.Size()
	}
	return model.DesignMatrix{Factors: factors, Rows: rows}, diag, nil
}
