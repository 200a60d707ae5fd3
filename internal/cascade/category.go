package cascade

// Category qualifies one Cascade pass: how large a span of the (permuted)
// key it covers, how large its parity blocks are, and whether the total
// differential parity across the category is known to be even — letting
// the final block's parity be inferred instead of exchanged.
type Category struct {
	Size                 uint64
	K                    uint64
	DiffParityMustBeEven bool
}
