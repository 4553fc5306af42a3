package core

// Target field keys of a draft product.
const (
	FieldSKU           = "sku"
	FieldEAN           = "ean"
	FieldName          = "name"
	FieldDescription   = "description"
	FieldPrice         = "price"
	FieldPurchasePrice = "purchase_price"
	FieldVATRate       = "vat_rate"
	FieldQuantity      = "quantity"
	FieldUnit          = "unit"
	FieldWeight        = "weight"
	FieldCategory      = "category"
	FieldManufacturer  = "manufacturer"
	FieldSupplier      = "supplier"
	FieldImporter      = "importer"
)

// IgnoreField marks a source column that is not imported.
const IgnoreField = "ignore"

// FieldDef is one target field and the header phrases that name it.
type FieldDef struct {
	Key      string
	Label    string
	Synonyms []string
}

// defaultFields is the synonym dictionary. Order matters: it breaks ties
// between fields with equal scores.
var defaultFields = []FieldDef{
	{FieldSKU, "SKU", []string{
		"sku", "kod", "kod produktu", "kod towaru", "symbol", "indeks", "index",
		"code", "product code", "item code", "item number", "article number",
		"artikelnummer", "art nr", "part number", "numer katalogowy", "ref", "reference",
	}},
	{FieldEAN, "EAN", []string{
		"ean", "ean13", "ean 13", "ean code", "gtin", "upc", "barcode", "kod kreskowy",
	}},
	{FieldName, "Name", []string{
		"name", "nazwa", "nazwa produktu", "nazwa towaru", "product name", "item name",
		"title", "bezeichnung", "produktname",
	}},
	{FieldDescription, "Description", []string{
		"description", "opis", "opis produktu", "beschreibung", "details", "long description",
	}},
	{FieldPrice, "Price", []string{
		"price", "cena", "cena netto", "cena brutto", "cena sprzedaży", "sale price",
		"unit price", "retail price", "preis", "verkaufspreis",
	}},
	{FieldPurchasePrice, "Purchase price", []string{
		"purchase price", "cost", "cost price", "buy price", "cena zakupu", "einkaufspreis",
	}},
	{FieldVATRate, "VAT rate", []string{
		"vat", "vat rate", "stawka vat", "vat %", "tax rate", "mwst", "ust",
	}},
	{FieldQuantity, "Quantity", []string{
		"quantity", "qty", "ilość", "stan", "stan magazynowy", "stock", "menge", "bestand",
	}},
	{FieldUnit, "Unit", []string{
		"unit", "uom", "unit of measure", "jm", "j.m.", "jednostka", "einheit",
	}},
	{FieldWeight, "Weight", []string{
		"weight", "waga", "masa", "gewicht", "weight kg",
	}},
	{FieldCategory, "Category", []string{
		"category", "kategoria", "kategorie", "group", "grupa", "product group",
	}},
	{FieldManufacturer, "Manufacturer", []string{
		"manufacturer", "producent", "hersteller", "brand", "marka", "make",
	}},
	{FieldSupplier, "Supplier", []string{
		"supplier", "dostawca", "lieferant", "vendor",
	}},
	{FieldImporter, "Importer", []string{
		"importer", "importer name", "importeur",
	}},
}

// fieldTable is defaultFields with synonyms normalized once at startup.
var fieldTable = normalizeFieldDefs(defaultFields)

func normalizeFieldDefs(defs []FieldDef) []FieldDef {
	out := make([]FieldDef, len(defs))
	for i, d := range defs {
		syns := make([]string, 0, len(d.Synonyms))
		seen := make(map[string]bool)
		for _, s := range d.Synonyms {
			n := NormalizeHeader(s)
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			syns = append(syns, n)
		}
		out[i] = FieldDef{Key: d.Key, Label: d.Label, Synonyms: syns}
	}
	return out
}

// TargetFields returns the target field definitions in dictionary order.
func TargetFields() []FieldDef {
	out := make([]FieldDef, len(fieldTable))
	copy(out, fieldTable)
	return out
}

// IsTargetField reports whether key names a known target field.
func IsTargetField(key string) bool {
	for _, d := range fieldTable {
		if d.Key == key {
			return true
		}
	}
	return false
}
