package processor

// Supplier creates a new processor instance for every task
type Supplier[KIn, VIn, KOut, VOut any] func() Processor[KIn, VIn, KOut, VOut]

type UntypedSupplier func() UntypedProcessor

func (s Supplier[KIn, VIn, KOut, VOut]) ToUntyped() UntypedSupplier {
	return func() UntypedProcessor {
		return &processorAdapter[KIn, VIn, KOut, VOut]{
			typed: s(),
		}
	}
}

// ToSupplier converts a typed processor factory for use in a topology
func ToSupplier[KIn, VIn, KOut, VOut any](factory func() Processor[KIn, VIn, KOut, VOut]) UntypedSupplier {
	return Supplier[KIn, VIn, KOut, VOut](factory).ToUntyped()
}
