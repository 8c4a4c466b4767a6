package client

import (
	"github.com/danmuck/crtplink/internal/observability"
	"github.com/danmuck/crtplink/internal/registry"
)

// Health and the view methods implement observability.StatusSource.
func (c *Client) Health() observability.HealthView {
	st := c.link.Stats()
	return observability.HealthView{
		Device:    c.ID(),
		Connected: c.Connected(),
		Ready:     c.Ready(),
		Received:  st.Received,
		Sent:      st.Sent,
		Dropped:   st.Dropped,
	}
}

func (c *Client) ParamViews() []observability.VariableView {
	return variableViews(c.params.Registry())
}

func (c *Client) LogVarViews() []observability.VariableView {
	return variableViews(c.logs.Registry())
}

func (c *Client) BlockViews() []observability.BlockView {
	blocks := c.logs.Blocks()
	out := make([]observability.BlockView, 0, len(blocks))
	for _, b := range blocks {
		view := observability.BlockView{
			ID:       b.ID(),
			State:    b.State().String(),
			PeriodMS: b.Period().Milliseconds(),
			Members:  b.Names(),
		}
		if ts, ok := b.LastTimestamp(); ok {
			view.LastTimestamp = &ts
		}
		out = append(out, view)
	}
	return out
}

func variableViews(reg *registry.Registry) []observability.VariableView {
	vars := reg.Variables()
	out := make([]observability.VariableView, len(vars))
	for i, v := range vars {
		out[i] = observability.VariableView{
			ID:       v.ID,
			Name:     v.Key(),
			Type:     v.Kind.String(),
			ReadOnly: v.ReadOnly,
		}
		if val, ok := v.Value(); ok {
			out[i].Value = val.Interface()
		}
	}
	return out
}
