package eventbus

// Channel names.
const (
	ChannelLayers    = "layers"
	ChannelLayerList = "layerlist"
	ChannelMap       = "map"
	ChannelSelection = "selection"
)

// Channels groups the buses shared by the registry and its observers.
// Layers carries requests to the registry; the other three carry
// notifications from it.
type Channels struct {
	Layers    *Bus
	LayerList *Bus
	Map       *Bus
	Selection *Bus
}

// NewChannels builds the four channels with shared options.
func NewChannels(opts ...Option) *Channels {
	return &Channels{
		Layers:    New(ChannelLayers, opts...),
		LayerList: New(ChannelLayerList, opts...),
		Map:       New(ChannelMap, opts...),
		Selection: New(ChannelSelection, opts...),
	}
}
