package layers

import (
	"fmt"

	"github.com/dewenzeng/CIM-Second/tensor"
)

// SConv2d is a 2-D convolution layer (cross-correlation) with stride,
// symmetric zero padding and channel groups, propagating a variance
// surrogate through the backward pass. Dilation is fixed at 1.
//
// The surrogate backward mirrors the value backward with every weight and
// input factor squared: where the input gradient correlates the output
// gradient with the flipped kernel, the surrogate gradient correlates the
// surrogate output gradient with the flipped squared kernel, and likewise
// for the weight gradients against the squared input.
type SConv2d struct {
	inChan, outChan int
	kh, kw          int
	stride          int
	padding         int
	groups          int

	W  *tensor.Tensor // [outChan, inChan/groups, kh, kw]
	WS *tensor.Tensor // weight surrogate, same shape
	B  *tensor.Tensor // [outChan], nil when the layer has no bias

	GradW  *tensor.Tensor
	GradWS *tensor.Tensor
	GradB  *tensor.Tensor

	lastPadded *tensor.Tensor // padded input [batch, inChan, H+2p, W+2p]
	lastShape  []int          // caller's (unpadded, possibly 3-D) input shape
}

// NewSConv2d creates a conv layer. inChan must be divisible by groups, and
// outChan as well.
func NewSConv2d(inChan, outChan, kh, kw, stride, padding, groups int, bias bool) (*SConv2d, error) {
	if stride < 1 || padding < 0 || groups < 1 {
		return nil, fmt.Errorf("SConv2d: invalid stride=%d padding=%d groups=%d", stride, padding, groups)
	}
	if inChan%groups != 0 || outChan%groups != 0 {
		return nil, fmt.Errorf("SConv2d: channels (%d in, %d out) not divisible by %d groups", inChan, outChan, groups)
	}
	c := &SConv2d{
		inChan:  inChan,
		outChan: outChan,
		kh:      kh,
		kw:      kw,
		stride:  stride,
		padding: padding,
		groups:  groups,
		W:       tensor.New(outChan, inChan/groups, kh, kw),
		WS:      tensor.New(outChan, inChan/groups, kh, kw),
	}
	if bias {
		c.B = tensor.New(outChan)
	}
	return c, nil
}

// OutputShape returns the spatial output dimensions for a given input.
func (c *SConv2d) OutputShape(inH, inW int) (outH, outW int) {
	outH = (inH+2*c.padding-c.kh)/c.stride + 1
	outW = (inW+2*c.padding-c.kw)/c.stride + 1
	return outH, outW
}

// pad returns x zero-padded by c.padding on each spatial side.
func (c *SConv2d) pad(x *tensor.Tensor, batch, h, w int) *tensor.Tensor {
	p := c.padding
	hp, wp := h+2*p, w+2*p
	out := tensor.New(batch, c.inChan, hp, wp)
	for b := 0; b < batch; b++ {
		for ch := 0; ch < c.inChan; ch++ {
			for y := 0; y < h; y++ {
				srcBase := ((b*c.inChan+ch)*h + y) * w
				dstBase := ((b*c.inChan+ch)*hp+y+p)*wp + p
				copy(out.Data[dstBase:dstBase+w], x.Data[srcBase:srcBase+w])
			}
		}
	}
	return out
}

// Forward convolves x of shape [batch, inChan, H, W] (or [inChan, H, W] for
// a single sample) and re-seeds the surrogate output to ones.
func (c *SConv2d) Forward(x, xS *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	var batch, h, w int
	switch len(x.Shape) {
	case 4:
		batch, h, w = x.Shape[0], x.Shape[2], x.Shape[3]
		if x.Shape[1] != c.inChan {
			return nil, nil, fmt.Errorf("SConv2d: expected %d input channels, got %d", c.inChan, x.Shape[1])
		}
	case 3:
		batch, h, w = 1, x.Shape[1], x.Shape[2]
		if x.Shape[0] != c.inChan {
			return nil, nil, fmt.Errorf("SConv2d: expected %d input channels, got %d", c.inChan, x.Shape[0])
		}
	default:
		return nil, nil, fmt.Errorf("SConv2d: input must be 3-D or 4-D, got %v", x.Shape)
	}
	if xS != nil && !tensor.SameShape(x, xS) {
		return nil, nil, fmt.Errorf("SConv2d: surrogate shape %v does not match input shape %v", xS.Shape, x.Shape)
	}
	outH, outW := c.OutputShape(h, w)
	if outH < 1 || outW < 1 {
		return nil, nil, fmt.Errorf("SConv2d: kernel %dx%d too large for %dx%d input (padding %d)", c.kh, c.kw, h, w, c.padding)
	}

	xp := c.pad(x, batch, h, w)
	c.lastPadded = xp
	c.lastShape = append([]int(nil), x.Shape...)

	hp, wp := h+2*c.padding, w+2*c.padding
	icg := c.inChan / c.groups
	ocg := c.outChan / c.groups
	s := c.stride

	y := tensor.New(batch, c.outChan, outH, outW)
	for b := 0; b < batch; b++ {
		for oc := 0; oc < c.outChan; oc++ {
			icBase := (oc / ocg) * icg
			for oy := 0; oy < outH; oy++ {
				for ox := 0; ox < outW; ox++ {
					sum := 0.0
					if c.B != nil {
						sum = c.B.Data[oc]
					}
					for icl := 0; icl < icg; icl++ {
						ic := icBase + icl
						for dy := 0; dy < c.kh; dy++ {
							iy := oy*s + dy
							inRow := ((b*c.inChan+ic)*hp + iy) * wp
							wRow := ((oc*icg+icl)*c.kh + dy) * c.kw
							for dx := 0; dx < c.kw; dx++ {
								sum += xp.Data[inRow+ox*s+dx] * c.W.Data[wRow+dx]
							}
						}
					}
					y.Data[((b*c.outChan+oc)*outH+oy)*outW+ox] = sum
				}
			}
		}
	}
	return y, tensor.OnesLike(y), nil
}

// Backward computes the input gradient pair and stores the parameter
// gradients. The surrogate rules use squared kernel taps and squared inputs.
func (c *SConv2d) Backward(gradY, gradYS *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if c.lastPadded == nil {
		return nil, nil, fmt.Errorf("SConv2d: no cached input for backward pass")
	}
	if len(gradY.Shape) != 4 {
		return nil, nil, fmt.Errorf("SConv2d: gradient must be 4-D, got %v", gradY.Shape)
	}
	if !tensor.SameShape(gradY, gradYS) {
		return nil, nil, fmt.Errorf("SConv2d: surrogate gradient shape %v does not match %v", gradYS.Shape, gradY.Shape)
	}
	batch, outH, outW := gradY.Shape[0], gradY.Shape[2], gradY.Shape[3]
	xp := c.lastPadded
	hp, wp := xp.Shape[2], xp.Shape[3]
	wantH, wantW := c.OutputShape(hp-2*c.padding, wp-2*c.padding)
	if gradY.Shape[1] != c.outChan || batch != xp.Shape[0] || outH != wantH || outW != wantW {
		return nil, nil, fmt.Errorf("SConv2d: gradient shape %v does not match cached forward [%d %d %d %d]",
			gradY.Shape, xp.Shape[0], c.outChan, wantH, wantW)
	}

	icg := c.inChan / c.groups
	ocg := c.outChan / c.groups
	s, p := c.stride, c.padding

	c.GradW = tensor.New(c.outChan, icg, c.kh, c.kw)
	c.GradWS = tensor.New(c.outChan, icg, c.kh, c.kw)
	if c.B != nil {
		c.GradB = tensor.New(c.outChan)
	}

	// Parameter gradients: correlate the output gradients with the (squared)
	// padded input.
	for oc := 0; oc < c.outChan; oc++ {
		icBase := (oc / ocg) * icg
		for b := 0; b < batch; b++ {
			for oy := 0; oy < outH; oy++ {
				gRow := ((b*c.outChan+oc)*outH + oy) * outW
				for ox := 0; ox < outW; ox++ {
					g := gradY.Data[gRow+ox]
					gS := gradYS.Data[gRow+ox]
					if c.B != nil {
						c.GradB.Data[oc] += g
					}
					for icl := 0; icl < icg; icl++ {
						ic := icBase + icl
						for dy := 0; dy < c.kh; dy++ {
							inRow := ((b*c.inChan+ic)*hp + oy*s + dy) * wp
							wRow := ((oc*icg+icl)*c.kh + dy) * c.kw
							for dx := 0; dx < c.kw; dx++ {
								v := xp.Data[inRow+ox*s+dx]
								c.GradW.Data[wRow+dx] += g * v
								c.GradWS.Data[wRow+dx] += gS * v * v
							}
						}
					}
				}
			}
		}
	}

	// Input gradients: transposed correlation with the flipped kernel, and
	// with the squared kernel on the surrogate stream. Stride is handled by
	// only visiting output positions that map onto the input pixel, which is
	// the loop form of zero-upsampling the output gradient.
	gradPad := tensor.New(batch, c.inChan, hp, wp)
	gradPadS := tensor.New(batch, c.inChan, hp, wp)
	for b := 0; b < batch; b++ {
		for ic := 0; ic < c.inChan; ic++ {
			group := ic / icg
			icl := ic % icg
			for iy := 0; iy < hp; iy++ {
				for ix := 0; ix < wp; ix++ {
					sum, sumS := 0.0, 0.0
					for dy := 0; dy < c.kh; dy++ {
						if (iy-dy)%s != 0 {
							continue
						}
						oy := (iy - dy) / s
						if oy < 0 || oy >= outH {
							continue
						}
						for dx := 0; dx < c.kw; dx++ {
							if (ix-dx)%s != 0 {
								continue
							}
							ox := (ix - dx) / s
							if ox < 0 || ox >= outW {
								continue
							}
							for ocl := 0; ocl < ocg; ocl++ {
								oc := group*ocg + ocl
								wv := c.W.Data[((oc*icg+icl)*c.kh+dy)*c.kw+dx]
								gIdx := ((b*c.outChan+oc)*outH+oy)*outW + ox
								sum += wv * gradY.Data[gIdx]
								sumS += wv * wv * gradYS.Data[gIdx]
							}
						}
					}
					idx := ((b*c.inChan+ic)*hp+iy)*wp + ix
					gradPad.Data[idx] = sum
					gradPadS.Data[idx] = sumS
				}
			}
		}
	}

	// Crop the padding back off, restoring the caller's input shape.
	h, w := hp-2*p, wp-2*p
	gradX := tensor.New(c.lastShape...)
	gradXS := tensor.New(c.lastShape...)
	for b := 0; b < batch; b++ {
		for ic := 0; ic < c.inChan; ic++ {
			for y := 0; y < h; y++ {
				srcBase := ((b*c.inChan+ic)*hp+y+p)*wp + p
				dstBase := ((b*c.inChan+ic)*h + y) * w
				copy(gradX.Data[dstBase:dstBase+w], gradPad.Data[srcBase:srcBase+w])
				copy(gradXS.Data[dstBase:dstBase+w], gradPadS.Data[srcBase:srcBase+w])
			}
		}
	}
	return gradX, gradXS, nil
}

// Update applies an SGD step to W and B using the last computed gradients.
func (c *SConv2d) Update(lr float64) error {
	if c.GradW == nil {
		return fmt.Errorf("SConv2d: no gradients to update")
	}
	for i := range c.W.Data {
		c.W.Data[i] -= lr * c.GradW.Data[i]
	}
	if c.B != nil && c.GradB != nil {
		for i := range c.B.Data {
			c.B.Data[i] -= lr * c.GradB.Data[i]
		}
	}
	return nil
}

func (c *SConv2d) Tag() string {
	return fmt.Sprintf("SConv2d_%d_%d_%d_%d", c.inChan, c.outChan, c.kh, c.kw)
}
