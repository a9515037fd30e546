package mining

// Policy houses the policy (configuration parameters) which is used to
// control the generation of block templates.
type Policy struct {
	// BlockMaxWeight is the maximum serialized weight of the body of a
	// generated block.
	BlockMaxWeight uint64
}
