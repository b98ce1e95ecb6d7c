package pricing

// TaxComponent is one presentable part of a tax detail (CGST, SGST or IGST for GST lines).
type TaxComponent struct {
	Name      string  `json:"name"`
	Rate      float64 `json:"rate"`
	TaxAmount float64 `json:"tax_amount"`
}

// SplitGST expands tax details into presentation components. Intra-state supplies split every
// rate evenly into CGST and SGST, inter-state supplies carry a single IGST component. Non-GST
// details are passed through under their own label.
func SplitGST(details []TaxDetail, interState bool) []TaxComponent {
	out := make([]TaxComponent, 0, len(details)*2)
	for _, d := range details {
		if d.Label != "GST" {
			out = append(out, TaxComponent{Name: d.Label, Rate: d.Rate, TaxAmount: d.TaxAmount})
			continue
		}
		if interState {
			out = append(out, TaxComponent{Name: "IGST", Rate: d.Rate, TaxAmount: d.TaxAmount})
			continue
		}
		half := Round2(d.TaxAmount / 2)
		out = append(out,
			TaxComponent{Name: "CGST", Rate: d.Rate / 2, TaxAmount: half},
			TaxComponent{Name: "SGST", Rate: d.Rate / 2, TaxAmount: Round2(d.TaxAmount - half)},
		)
	}
	return out
}
