package model

// Node types.
const (
	NodeGPU    = "GPU"
	NodeSwitch = "Switch"
)

// Node is a compute or switch element of the fabric. Static after topology
// construction; runtime state lives on links.
type Node struct {
	ID            string  `json:"id"`
	Type          string  `json:"type"` // GPU/Switch
	ComputeTFLOPS float64 `json:"computeTflops,omitempty"`
	MemoryGB      int     `json:"memoryGb,omitempty"`
	Ports         int     `json:"ports,omitempty"`
}
