// Package keyderivation implements BIP-352 key derivation (C3): turning a
// block's tweaks into a SecretIndex of candidate scriptPubKeys, using the
// wallet's scan secret and spend public key.
//
// Grounded on spdk-core/src/client/client.rs's get_script_to_secret_map
// (the parallel-vs-sequential ECDH/SPK-derivation split) and the teacher's
// internal/scanner/compute.go (processTweak: per-tweak shared secret, base
// output key, and label point-addition/negation). Built on
// github.com/setavenger/go-bip352 for the ECDH, output-key and label
// point primitives; the one exception is TweakScalar, which computes the
// BIP-352 shared-secret tagged hash itself on crypto/sha256 because
// go-bip352 does not export that scalar.
package keyderivation

import (
	"crypto/sha256"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/setavenger/go-bip352"

	"github.com/setavenger/blindbit-scan-engine/internal/logging"
	"github.com/setavenger/blindbit-scan-engine/internal/scantypes"
)

// sharedSecretTag is the BIP-340 tagged-hash tag for deriving the k-th
// output's scalar tweak from an ECDH shared secret, per BIP-352. go-bip352
// computes this internally for CreateOutputPubKey but does not export the
// scalar, so it is reproduced here directly from the published algorithm
// (sha256 of the tag, written twice and prefixed onto the message).
var sharedSecretTag = taggedHashPrefix("BIP0352/SharedSecret")

func taggedHashPrefix(tag string) []byte {
	tagHash := sha256.Sum256([]byte(tag))
	prefix := make([]byte, 0, 64)
	prefix = append(prefix, tagHash[:]...)
	prefix = append(prefix, tagHash[:]...)
	return prefix
}

// TweakScalar computes t_k = TaggedHash("BIP0352/SharedSecret", ecdh || ser32(k))
// for k fixed at 0, matching the only index the teacher ever derives.
// Exported so internal/txmatcher can recover the spendable scalar for a
// matched output from the SecretIndex's shared secret.
func TweakScalar(ecdh scantypes.SharedSecret) [32]byte {
	msg := make([]byte, 0, len(sharedSecretTag)+33+4)
	msg = append(msg, sharedSecretTag...)
	msg = append(msg, ecdh[:]...)
	msg = append(msg, 0x00, 0x00, 0x00, 0x00) // ser32(0), big-endian
	return sha256.Sum256(msg)
}

// Deriver holds the wallet's scan secret and spend public key needed to
// turn tweaks into candidate scripts. It is a cheap value to copy across
// goroutines: it carries no shared mutable state.
type Deriver struct {
	ScanSecret [32]byte
	SpendPub   [33]byte
	Labels     []bip352.Label // labels[0] is conventionally the change label (m=0)
}

// NewDeriver builds a Deriver. labels may be nil/empty for a lookahead-1,
// unlabeled wallet.
func NewDeriver(scanSecret [32]byte, spendPub [33]byte, labels []bip352.Label) Deriver {
	return Deriver{ScanSecret: scanSecret, SpendPub: spendPub, Labels: labels}
}

// Stats reports counters accumulated over a derivation call. Curve-
// arithmetic failures are extraordinarily rare and never fatal per
// spec.md §4.1; Skipped counts how many tweak/label pairs were dropped.
type Stats struct {
	Skipped int64
}

// DeriveSecretIndex computes the SecretIndex for a batch of tweaks. The
// per-tweak computation is embarrassingly parallel and CPU-bound, fanned
// out across GOMAXPROCS goroutines behind a bounded semaphore — the same
// shape as the teacher's precomputePotentialOutputs (sync.WaitGroup plus a
// channel-based semaphore), writing into a mutex-guarded map so the final
// result is independent of completion order.
func (d Deriver) DeriveSecretIndex(tweaks []scantypes.Tweak) (scantypes.SecretIndex, Stats) {
	index := make(scantypes.SecretIndex, len(tweaks))
	if len(tweaks) == 0 {
		return index, Stats{}
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		skipped  int64
		workers  = runtime.GOMAXPROCS(0)
		sem      = make(chan struct{}, max(workers, 1))
	)

	for _, tw := range tweaks {
		wg.Add(1)
		go func(tw scantypes.Tweak) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			entries, skippedHere := d.deriveOneTweak(tw)
			if skippedHere > 0 {
				atomic.AddInt64(&skipped, skippedHere)
			}
			if len(entries) == 0 {
				return
			}
			mu.Lock()
			for spk, entry := range entries {
				index[spk] = entry
			}
			mu.Unlock()
		}(tw)
	}
	wg.Wait()

	return index, Stats{Skipped: atomic.LoadInt64(&skipped)}
}

// deriveOneTweak computes ecdh = b_scan*T, then for the unlabeled output
// and every known label, a candidate P2TR script plus the label's signed
// variants (P_k + label*G and P_k - label*G), per BIP-352's label-sum
// rule. Returns the scripts it could derive and a count of skipped
// label/index pairs.
func (d Deriver) deriveOneTweak(tw scantypes.Tweak) (map[scantypes.CandidateScript]scantypes.SecretEntry, int64) {
	out := make(map[scantypes.CandidateScript]scantypes.SecretEntry)

	tweakBytes := [33]byte(tw)
	sharedSecretPtr, err := bip352.CreateSharedSecret(&tweakBytes, &d.ScanSecret, nil)
	if err != nil {
		logging.L.Debug().Err(err).Msg("keyderivation: failed to compute ecdh shared secret, skipping tweak")
		return out, 1
	}
	sharedSecret := scantypes.SharedSecret(*sharedSecretPtr)

	baseOutputKey, err := bip352.CreateOutputPubKey(*sharedSecretPtr, d.SpendPub, 0)
	if err != nil {
		logging.L.Debug().Err(err).Msg("keyderivation: failed to derive output key, skipping tweak")
		return out, 1
	}

	var baseXOnly [32]byte
	copy(baseXOnly[:], baseOutputKey[:])
	out[p2trScript(baseXOnly)] = scantypes.SecretEntry{Secret: sharedSecret}

	var skipped int64
	baseOutputKey33 := [33]byte{0x02}
	copy(baseOutputKey33[1:], baseOutputKey[:])

	for _, label := range d.Labels {
		lbl := &scantypes.Label{M: label.M}

		plus, err := bip352.AddPublicKeys(&baseOutputKey33, &label.PubKey)
		if err != nil {
			skipped++
			continue
		}
		var plusXOnly [32]byte
		copy(plusXOnly[:], plus[1:])
		out[p2trScript(plusXOnly)] = scantypes.SecretEntry{Secret: sharedSecret, Label: lbl}

		negated := label.PubKey
		if err := bip352.NegatePublicKey(&negated); err != nil {
			skipped++
			continue
		}
		minus, err := bip352.AddPublicKeys(&baseOutputKey33, &negated)
		if err != nil {
			skipped++
			continue
		}
		var minusXOnly [32]byte
		copy(minusXOnly[:], minus[1:])
		out[p2trScript(minusXOnly)] = scantypes.SecretEntry{Secret: sharedSecret, Label: lbl}
	}

	return out, skipped
}

// p2trScript wraps a 32-byte x-only key as OP_1 PUSH32 <x>.
func p2trScript(xonly [32]byte) scantypes.CandidateScript {
	var spk scantypes.CandidateScript
	spk[0] = 0x51
	spk[1] = 0x20
	copy(spk[2:], xonly[:])
	return spk
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
