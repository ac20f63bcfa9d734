// internal/module/detect_test.go
package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"addons prefix", "addons/sale/models/sale.py", "sale"},
		{"addons prefix single file", "addons/stock/__init__.py", "stock"},
		{"addons prefix bare module dir", "addons/crm", "crm"},
		{"odoo addons prefix", "odoo/addons/base/__manifest__.py", "base"},
		{"odoo addons nested", "odoo/addons/web/static/src/js/main.js", "web"},
		{"manifest rule", "account/__manifest__.py", "account"},
		{"openerp manifest rule", "hr/__openerp__.py", "hr"},
		{"manifest rule deep path", "foo/bar/__manifest__.py", "foo"},
		{"no match", "README.md", ""},
		{"no match nested", "doc/guide/index.rst", ""},
		{"addons prefix empty segment", "addons/", ""},
		{"reserved setup via manifest", "setup/__manifest__.py", ""},
		{"manifest under setup takes first segment", "setup/foo/__manifest__.py", ""},
		{"reserved odoo under addons", "addons/odoo/models.py", ""},
		{"reserved addons under addons", "addons/addons/thing.py", ""},
		{"reserved dot", "addons/./file.py", ""},
		{"reserved dotdot", "addons/../file.py", ""},
		{"manifest-like filename elsewhere", "addons/sale/__manifest__.py.bak", "sale"},
		{"manifest not final segment", "sale/__manifest__.py/other", ""},
		{"bare manifest at repo root", "__manifest__.py", ""},
		{"bare openerp manifest at repo root", "__openerp__.py", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.path))
		})
	}
}

func TestDetect_Deterministic(t *testing.T) {
	const path = "addons/point_of_sale/models/pos_order.py"
	first := Detect(path)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Detect(path))
	}
}

func TestDetectAll(t *testing.T) {
	paths := []string{
		"addons/sale/models/sale.py",
		"addons/sale/views/sale_views.xml",
		"odoo/addons/base/__manifest__.py",
		"addons/setup/conf.py", // reserved
		"README.md",
		"addons/sale/__init__.py",
		"addons/purchase/models/purchase.py",
	}

	got := DetectAll(paths)
	assert.Equal(t, []string{"sale", "base", "purchase"}, got, "distinct names in first-seen order")
}

func TestPathPrefix(t *testing.T) {
	assert.Equal(t, "addons/sale/", PathPrefix("sale"))
}
