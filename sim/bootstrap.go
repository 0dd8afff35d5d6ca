package sim

// Bootstrap seeds om with hard-slot obligations that erase and program the
// first BlocksPerPlane blocks of every plane, and optionally read them back.
// In stripe mode each step addresses the same block index on all planes of a
// die at once; otherwise every plane gets its own single-target obligation.
// Deadlines advance by Spacing per step, and every obligation is Ordered so
// a block's erase, programs and reads are served in that sequence even when
// requeues reshuffle deadlines.
// It returns the number of obligations pushed.
func Bootstrap(om *ObligationManager, p *Params) int {
	b := p.Bootstrap
	t := p.Topology
	n := 0
	deadline := b.Start
	push := func(kind OpKind, targets []Address) {
		om.Push(&Obligation{
			Require:    kind,
			Targets:    targets,
			Deadline:   deadline,
			HardSlot:   true,
			Skip:       true,
			Provenance: ProvenanceBootstrap,
			Ordered:    true,
		})
		n++
	}
	// step pushes one obligation per plane group for a given block index and page.
	step := func(kind OpKind, die, k, page int) {
		var stripe []Address
		for plane := 0; plane < t.Planes; plane++ {
			addr := Address{Die: die, Plane: plane, Block: plane + k*t.Planes, Page: page}
			if b.Stripe {
				stripe = append(stripe, addr)
			} else {
				push(kind, []Address{addr})
			}
		}
		if b.Stripe {
			push(kind, stripe)
		}
		deadline += b.Spacing
	}
	for die := 0; die < t.Dies; die++ {
		for k := 0; k < b.BlocksPerPlane; k++ {
			step(KindErase, die, k, NoPage)
			for page := 0; page < b.Pages; page++ {
				step(KindProgram, die, k, page)
			}
			if b.Read {
				for page := 0; page < b.Pages; page++ {
					step(KindRead, die, k, page)
				}
			}
		}
	}
	return n
}
