package noise

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/hefloat"

	"github.com/dewenzeng/CIM-Second/tensor"
)

// CKKSSource models the fixed-point error of CKKS approximate arithmetic by
// round-tripping a tensor through encode/encrypt/decrypt/decode. No
// evaluation keys are needed: the round trip alone exhibits the encoding and
// encryption noise that a ciphertext-domain computation would start from.
type CKKSSource struct {
	params    hefloat.Parameters
	encoder   *hefloat.Encoder
	encryptor *rlwe.Encryptor
	decryptor *rlwe.Decryptor
}

// NewCKKSSource builds a source with the scheme parameters used throughout
// the experiments (LogN=14, 45+9x34-bit Q chain, scale 2^40).
func NewCKKSSource() (*CKKSSource, error) {
	params, err := hefloat.NewParametersFromLiteral(hefloat.ParametersLiteral{
		LogN: 14,
		Q: []uint64{0x200000008001, 0x400018001, // 45 + 9 x 34
			0x3fffd0001, 0x400060001,
			0x400068001, 0x3fff90001,
			0x400080001, 0x4000a8001,
			0x400108001, 0x3ffeb8001},
		P:               []uint64{0x7fffffd8001, 0x7fffffc8001}, // 43, 43
		LogDefaultScale: 40,
	})
	if err != nil {
		return nil, fmt.Errorf("ckks parameters: %w", err)
	}
	kgen := hefloat.NewKeyGenerator(params)
	sk, pk := kgen.GenKeyPairNew()
	return &CKKSSource{
		params:    params,
		encoder:   hefloat.NewEncoder(params),
		encryptor: hefloat.NewEncryptor(params, pk),
		decryptor: hefloat.NewDecryptor(params, sk),
	}, nil
}

// Perturb round-trips t through the scheme, slot-chunked, and reports the
// per-element squared error.
func (s *CKKSSource) Perturb(t *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	slots := s.params.MaxSlots()
	noisy := tensor.New(t.Shape...)
	sqErr := tensor.New(t.Shape...)

	for start := 0; start < len(t.Data); start += slots {
		end := start + slots
		if end > len(t.Data) {
			end = len(t.Data)
		}
		chunk := t.Data[start:end]

		pt := hefloat.NewPlaintext(s.params, s.params.MaxLevel())
		if err := s.encoder.Encode(chunk, pt); err != nil {
			return nil, nil, fmt.Errorf("ckks encode: %w", err)
		}
		ct, err := s.encryptor.EncryptNew(pt)
		if err != nil {
			return nil, nil, fmt.Errorf("ckks encrypt: %w", err)
		}
		dec := make([]complex128, slots)
		if err := s.encoder.Decode(s.decryptor.DecryptNew(ct), dec); err != nil {
			return nil, nil, fmt.Errorf("ckks decode: %w", err)
		}
		for i := range chunk {
			v := real(dec[i])
			noisy.Data[start+i] = v
			d := v - chunk[i]
			sqErr.Data[start+i] = d * d
		}
	}
	return noisy, sqErr, nil
}
