// Package nginx wraps the nginx-facing side effects of an apply: the
// "nginx -t" syntax check, the reload (SIGHUP or systemctl) and the
// Magento 1/2 include switch.
package nginx
